//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestLifecycleOnEveryStore(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, box := newEngine(t, b.open(t))

			user, err := engine.Register(ctx, authcore.RegisterRequest{
				Email:    "ivy@example.com",
				Username: "ivy",
				Password: integrationPassword,
			})
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if _, err := engine.VerifyEmail(ctx, box.token(t)); err != nil {
				t.Fatalf("VerifyEmail failed: %v", err)
			}

			sess, err := engine.Login(ctx, authcore.LoginRequest{Email: "ivy@example.com", Password: integrationPassword})
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			claims, err := engine.ValidateAccess(ctx, sess.AccessToken)
			if err != nil || claims.AccountID != user.ID {
				t.Fatalf("ValidateAccess = %+v, %v", claims, err)
			}

			rotated, err := engine.Refresh(ctx, sess.RefreshToken)
			if err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}
			if _, err := engine.Refresh(ctx, sess.RefreshToken); !errors.Is(err, authcore.ErrRefreshTokenInvalid) {
				t.Fatalf("expected rotated-out token rejected, got %v", err)
			}
			if _, err := engine.Heartbeat(ctx, rotated.RefreshToken); err != nil {
				t.Fatalf("Heartbeat failed: %v", err)
			}

			if err := engine.SendLoginCode(ctx, "ivy@example.com"); err != nil {
				t.Fatalf("SendLoginCode failed: %v", err)
			}
			if _, err := engine.VerifyLoginCode(ctx, "ivy@example.com", box.code(t)); err != nil {
				t.Fatalf("VerifyLoginCode failed: %v", err)
			}

			if err := engine.RequestPasswordReset(ctx, "ivy@example.com"); err != nil {
				t.Fatalf("RequestPasswordReset failed: %v", err)
			}
			resetToken := box.token(t)
			if err := engine.ConfirmPasswordReset(ctx, resetToken, "Fr3sh!password"); err != nil {
				t.Fatalf("ConfirmPasswordReset failed: %v", err)
			}
			if err := engine.ConfirmPasswordReset(ctx, resetToken, "An0ther!password"); !errors.Is(err, authcore.ErrInvalidResetToken) && !errors.Is(err, authcore.ErrResetTokenReused) {
				t.Fatalf("expected redeemed token rejected, got %v", err)
			}
			if _, err := engine.Login(ctx, authcore.LoginRequest{Email: "ivy@example.com", Password: integrationPassword}); !errors.Is(err, authcore.ErrInvalidCredentials) {
				t.Fatalf("expected old password rejected, got %v", err)
			}

			health := engine.Health(ctx)
			if !health.StoreAvailable {
				t.Fatal("expected store to answer pings")
			}
		})
	}
}

func TestLockoutPersistsOnEveryStore(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, box := newEngine(t, b.open(t))

			user, err := engine.Register(ctx, authcore.RegisterRequest{Email: "jo@example.com", Username: "jo", Password: integrationPassword})
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if _, err := engine.VerifyEmail(ctx, box.token(t)); err != nil {
				t.Fatalf("VerifyEmail failed: %v", err)
			}

			for i := 0; i < 5; i++ {
				_, _ = engine.Login(ctx, authcore.LoginRequest{Email: "jo@example.com", Password: "wrong"})
			}
			_, err = engine.Login(ctx, authcore.LoginRequest{Email: "jo@example.com", Password: integrationPassword})
			if !errors.Is(err, authcore.ErrAccountLocked) {
				t.Fatalf("expected ErrAccountLocked, got %v", err)
			}
			if authcore.RetryAfter(err) <= 0 {
				t.Fatal("expected a positive retry-after")
			}

			attempts, err := engine.GetLoginAttempts(ctx, user.ID)
			if err != nil || attempts.FailedLoginAttempts != 5 || attempts.LockedUntil.IsZero() {
				t.Fatalf("unexpected attempts %+v, %v", attempts, err)
			}

			if err := engine.UnlockAccount(ctx, user.ID); err != nil {
				t.Fatalf("UnlockAccount failed: %v", err)
			}
			if _, err := engine.Login(ctx, authcore.LoginRequest{Email: "jo@example.com", Password: integrationPassword}); err != nil {
				t.Fatalf("login after unlock failed: %v", err)
			}
		})
	}
}
