//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestRefreshRaceSingleWinner(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, box := newEngine(t, b.open(t))

			if _, err := engine.Register(ctx, authcore.RegisterRequest{Email: "kai@example.com", Username: "kai", Password: integrationPassword}); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if _, err := engine.VerifyEmail(ctx, box.token(t)); err != nil {
				t.Fatalf("VerifyEmail failed: %v", err)
			}
			sess, err := engine.Login(ctx, authcore.LoginRequest{Email: "kai@example.com", Password: integrationPassword})
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}

			const workers = 16
			start := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(workers)

			results := make(chan error, workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					<-start
					_, err := engine.Refresh(ctx, sess.RefreshToken)
					results <- err
				}()
			}

			close(start)
			wg.Wait()
			close(results)

			success := 0
			for err := range results {
				switch {
				case err == nil:
					success++
				case errors.Is(err, authcore.ErrRefreshTokenInvalid):
				default:
					t.Fatalf("unexpected refresh error: %v", err)
				}
			}

			if success != 1 {
				t.Fatalf("expected exactly one winner, got %d", success)
			}
		})
	}
}
