package password

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrWeakPassword is returned by Policy.Check for passwords that do not meet
// the configured composition rules.
var ErrWeakPassword = errors.New("password does not meet policy")

// Policy describes the composition rules applied to new passwords. It is not
// applied to passwords presented at login.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires eight characters with at least one upper-case
// letter, lower-case letter, digit and special character.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Check returns nil when password satisfies p, otherwise an error wrapping
// ErrWeakPassword that names the first missing requirement.
func (p Policy) Check(password string) error {
	if len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters long", ErrWeakPassword, p.MinLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: must contain an upper-case letter", ErrWeakPassword)
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: must contain a lower-case letter", ErrWeakPassword)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: must contain a digit", ErrWeakPassword)
	case p.RequireSpecial && !special:
		return fmt.Errorf("%w: must contain a special character", ErrWeakPassword)
	}
	return nil
}
