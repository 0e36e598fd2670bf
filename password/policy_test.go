package password

import (
	"errors"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{name: "strong", password: "Str0ng#Pass", ok: true},
		{name: "too short", password: "S0#a", ok: false},
		{name: "no upper", password: "weak#pass1", ok: false},
		{name: "no lower", password: "WEAK#PASS1", ok: false},
		{name: "no digit", password: "Weak#Password", ok: false},
		{name: "no special", password: "WeakPass12", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.Check(tc.password)
			if tc.ok && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.password, err)
			}
			if !tc.ok && !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("expected ErrWeakPassword for %q, got %v", tc.password, err)
			}
		})
	}
}

func TestZeroPolicyAcceptsAnything(t *testing.T) {
	if err := (Policy{}).Check(""); err != nil {
		t.Fatalf("expected zero policy to accept, got %v", err)
	}
}
