package account

import (
	"errors"
	"fmt"
	"time"
)

// Method names a second-factor kind as persisted by stores.
type Method string

const (
	MethodNone  Method = "none"
	MethodTOTP  Method = "totp"
	MethodEmail Method = "email"
)

// SecondFactor is implemented only by NoFactor, TOTPFactor and EmailFactor.
type SecondFactor interface {
	Method() Method
	isSecondFactor()
}

// NoFactor means no second factor is enrolled.
type NoFactor struct{}

// TOTPFactor holds the base32 shared secret of an authenticator app.
type TOTPFactor struct {
	Secret string
}

// EmailFactor holds the hash of the last emailed code. CodeHash is empty when
// no code is outstanding.
type EmailFactor struct {
	CodeHash  string
	ExpiresAt time.Time
}

func (NoFactor) Method() Method    { return MethodNone }
func (TOTPFactor) Method() Method  { return MethodTOTP }
func (EmailFactor) Method() Method { return MethodEmail }

func (NoFactor) isSecondFactor()    {}
func (TOTPFactor) isSecondFactor()  {}
func (EmailFactor) isSecondFactor() {}

// HasCode reports whether an emailed code is outstanding.
func (f EmailFactor) HasCode() bool {
	return f.CodeHash != ""
}

// LiveAt reports whether an outstanding code has not yet expired at now.
func (f EmailFactor) LiveAt(now time.Time) bool {
	return f.HasCode() && now.Before(f.ExpiresAt)
}

// EncodedFactor is the flat column form of a SecondFactor.
type EncodedFactor struct {
	Method        Method
	Secret        string
	CodeHash      string
	CodeExpiresAt time.Time
}

// ErrInvalidFactor is returned by DecodeSecondFactor for column combinations
// no variant can represent.
var ErrInvalidFactor = errors.New("invalid second factor encoding")

// EncodeSecondFactor flattens f. A nil factor encodes as MethodNone.
func EncodeSecondFactor(f SecondFactor) EncodedFactor {
	switch v := f.(type) {
	case TOTPFactor:
		return EncodedFactor{Method: MethodTOTP, Secret: v.Secret}
	case EmailFactor:
		return EncodedFactor{Method: MethodEmail, CodeHash: v.CodeHash, CodeExpiresAt: v.ExpiresAt}
	default:
		return EncodedFactor{Method: MethodNone}
	}
}

// DecodeSecondFactor rebuilds the variant stored in e.
func DecodeSecondFactor(e EncodedFactor) (SecondFactor, error) {
	switch e.Method {
	case MethodNone, "":
		if e.Secret != "" || e.CodeHash != "" {
			return nil, fmt.Errorf("%w: method none with factor data", ErrInvalidFactor)
		}
		return NoFactor{}, nil
	case MethodTOTP:
		if e.Secret == "" || e.CodeHash != "" {
			return nil, fmt.Errorf("%w: totp requires a secret and no code", ErrInvalidFactor)
		}
		return TOTPFactor{Secret: e.Secret}, nil
	case MethodEmail:
		if e.Secret != "" {
			return nil, fmt.Errorf("%w: email factor with a secret", ErrInvalidFactor)
		}
		return EmailFactor{CodeHash: e.CodeHash, ExpiresAt: e.CodeExpiresAt}, nil
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidFactor, e.Method)
	}
}
