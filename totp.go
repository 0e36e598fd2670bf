package authcore

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

type totpManager struct {
	config TwoFactorConfig
}

type totpKey struct {
	Secret        string
	URI           string
	QRCodeDataURL string
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	return &totpManager{config: cfg}
}

func (m *totpManager) digits() otp.Digits {
	if m.config.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Generate creates a fresh secret for accountName together with its otpauth
// URI and a PNG QR code encoded as a data URL.
func (m *totpManager) Generate(accountName string) (*totpKey, error) {
	if m == nil {
		return nil, ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      m.config.Period,
		SecretSize:  m.config.SecretSize,
		Digits:      m.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	img, err := key.Image(m.config.QRCodeSize, m.config.QRCodeSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &totpKey{
		Secret:        key.Secret(),
		URI:           key.URL(),
		QRCodeDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Verify reports whether code matches secret at now within the configured
// skew. Malformed codes are a mismatch, not an error.
func (m *totpManager) Verify(secret, code string, now time.Time) bool {
	if m == nil || secret == "" {
		return false
	}
	code = strings.TrimSpace(code)
	if len(code) != m.config.Digits {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    m.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}
