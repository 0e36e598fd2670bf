package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondFactorRoundTrip(t *testing.T) {
	expires := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	factors := []SecondFactor{
		NoFactor{},
		TOTPFactor{Secret: "JBSWY3DPEHPK3PXP"},
		EmailFactor{CodeHash: "abc", ExpiresAt: expires},
		EmailFactor{},
	}

	for _, f := range factors {
		decoded, err := DecodeSecondFactor(EncodeSecondFactor(f))
		require.NoError(t, err)
		assert.Equal(t, f, decoded)
	}
}

func TestEncodeNilFactor(t *testing.T) {
	assert.Equal(t, MethodNone, EncodeSecondFactor(nil).Method)
}

func TestDecodeRejectsMixedState(t *testing.T) {
	cases := []EncodedFactor{
		{Method: MethodEmail, Secret: "JBSWY3DPEHPK3PXP"},
		{Method: MethodTOTP},
		{Method: MethodTOTP, Secret: "JBSWY3DPEHPK3PXP", CodeHash: "abc"},
		{Method: MethodNone, CodeHash: "abc"},
		{Method: "sms"},
	}
	for _, c := range cases {
		_, err := DecodeSecondFactor(c)
		assert.ErrorIs(t, err, ErrInvalidFactor, "method %q", c.Method)
	}
}

func TestEmailFactorLiveAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := EmailFactor{CodeHash: "abc", ExpiresAt: now.Add(time.Minute)}
	assert.True(t, f.LiveAt(now))
	assert.False(t, f.LiveAt(now.Add(2*time.Minute)))
	assert.False(t, EmailFactor{}.LiveAt(now))
}
