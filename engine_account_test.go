package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/account"
	"golang.org/x/crypto/bcrypt"
)

func TestRegister_CreatesUnverifiedAccountAndMailsLink(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user, err := env.engine.Register(ctx, RegisterRequest{
		Email:     " Ada@Example.COM ",
		Username:  "ada_l",
		Password:  testPassword,
		FirstName: " Ada ",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Email != "ada@example.com" || user.Username != "ada_l" || user.FirstName != "Ada" {
		t.Fatalf("unexpected user view %+v", user)
	}
	if user.IsActive || user.EmailVerified || user.Role != "client" {
		t.Fatalf("expected inactive unverified client, got %+v", user)
	}
	if _, err := uuidVersion(user.ID); err != nil {
		t.Fatalf("expected a UUID id, got %q: %v", user.ID, err)
	}

	msg := env.mail.last(t)
	if msg.To != "ada@example.com" || !strings.Contains(msg.Text, "http://localhost:3000/verify-email?token=") {
		t.Fatalf("unexpected verification mail %+v", msg)
	}
	acct := env.account(t, user.ID)
	if !acct.EmailVerificationExpiresAt.Equal(env.clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("expected 24h verification expiry, got %v", acct.EmailVerificationExpiresAt)
	}
	if !strings.HasPrefix(acct.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %q", acct.PasswordHash)
	}

	if _, err := env.login("ada@example.com", testPassword, ""); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified before verification, got %v", err)
	}
}

func TestRegister_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"email", RegisterRequest{Email: "nope", Username: "ada", Password: testPassword}, ErrInvalidEmail},
		{"display name", RegisterRequest{Email: "Ada <ada@example.com>", Username: "ada", Password: testPassword}, ErrInvalidEmail},
		{"short username", RegisterRequest{Email: "ada@example.com", Username: "ab", Password: testPassword}, ErrInvalidUsername},
		{"username chars", RegisterRequest{Email: "ada@example.com", Username: "ada lovelace", Password: testPassword}, ErrInvalidUsername},
		{"weak password", RegisterRequest{Email: "ada@example.com", Username: "ada", Password: "password"}, ErrPasswordPolicy},
	}
	for _, tc := range cases {
		if _, err := env.engine.Register(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if env.store.Len() != 0 {
		t.Fatal("expected no accounts created")
	}
}

func TestRegister_DuplicateEmailOrUsername(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "ada@example.com", Username: "ada", Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "ADA@example.com", Username: "other", Password: testPassword}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for email, got %v", err)
	}
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "other@example.com", Username: "ada", Password: testPassword}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for username, got %v", err)
	}
}

func TestVerifyEmail_Outcomes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "ada@example.com", Username: "ada", Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := env.mail.lastToken(t)

	if _, err := env.engine.VerifyEmail(ctx, "unknown"); !errors.Is(err, ErrInvalidVerificationToken) {
		t.Fatalf("expected ErrInvalidVerificationToken, got %v", err)
	}

	user, err := env.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !user.EmailVerified || !user.IsActive {
		t.Fatalf("expected verified active account, got %+v", user)
	}
	if _, err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidVerificationToken) {
		t.Fatalf("expected used token to be unknown, got %v", err)
	}
}

func TestVerifyEmail_Expired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.engine.Register(ctx, RegisterRequest{Email: "ada@example.com", Username: "ada", Password: testPassword})
	token := env.mail.lastToken(t)
	env.clock.Advance(24 * time.Hour)

	if _, err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrVerificationTokenExpired) {
		t.Fatalf("expected ErrVerificationTokenExpired, got %v", err)
	}
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.engine.Register(ctx, RegisterRequest{Email: "ada@example.com", Username: "ada", Password: testPassword})
	first := env.mail.lastToken(t)
	sent := env.mail.count()

	if err := env.engine.ResendVerification(ctx, "ada@example.com"); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}
	if env.mail.count() != sent {
		t.Fatal("expected resend inside the cooldown to be silent")
	}

	env.clock.Advance(time.Minute)
	if err := env.engine.ResendVerification(ctx, "ada@example.com"); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}
	second := env.mail.lastToken(t)
	if second == first {
		t.Fatal("expected a new token")
	}
	if _, err := env.engine.VerifyEmail(ctx, first); !errors.Is(err, ErrInvalidVerificationToken) {
		t.Fatalf("expected superseded token to fail, got %v", err)
	}
	if _, err := env.engine.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	sent = env.mail.count()
	env.clock.Advance(time.Hour)
	for _, email := range []string{"ada@example.com", "ghost@example.com"} {
		if err := env.engine.ResendVerification(ctx, email); err != nil {
			t.Fatalf("ResendVerification(%s) failed: %v", email, err)
		}
	}
	if env.mail.count() != sent {
		t.Fatal("expected no mail for verified or unknown addresses")
	}
}

func TestExternalIdentity_CreateLinkAndFind(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	created, err := env.engine.ResolveExternalIdentity(ctx, ExternalIdentity{
		Provider: "Google", Subject: "g-123", Email: "grace@example.com", FirstName: "Grace",
	})
	if err != nil {
		t.Fatalf("ResolveExternalIdentity failed: %v", err)
	}
	if !created.EmailVerified || !created.IsActive || created.Username != "grace" {
		t.Fatalf("expected verified active account, got %+v", created)
	}

	again, err := env.engine.ResolveExternalIdentity(ctx, ExternalIdentity{Provider: "google", Subject: "g-123", Email: "changed@example.com"})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again.ID != created.ID {
		t.Fatal("expected lookup by provider and subject")
	}

	// An unverified registration is linked and activated.
	reg, err := env.engine.Register(ctx, RegisterRequest{Email: "ada@example.com", Username: "ada", Password: testPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	linked, err := env.engine.ResolveExternalIdentity(ctx, ExternalIdentity{Provider: "github", Subject: "42", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if linked.ID != reg.ID || !linked.EmailVerified || !linked.IsActive {
		t.Fatalf("expected registration linked and activated, got %+v", linked)
	}
	if !env.account(t, reg.ID).HasIdentity("github", "42") {
		t.Fatal("expected identity stored on the account")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricExternalIdentityLinked]; got != 1 {
		t.Fatalf("expected one link metric, got %d", got)
	}

	for _, bad := range []ExternalIdentity{
		{Subject: "1", Email: "x@example.com"},
		{Provider: "google", Email: "x@example.com"},
		{Provider: "google", Subject: "1", Email: "bad"},
	} {
		if _, err := env.engine.ResolveExternalIdentity(ctx, bad); !errors.Is(err, ErrInvalidExternalIdentity) {
			t.Fatalf("%+v: expected ErrInvalidExternalIdentity, got %v", bad, err)
		}
	}
}

func TestExternalIdentity_LinkDiscardsUnverifiedRegistrantCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const squatterPassword = "Att4cker!pass"
	reg, err := env.engine.Register(ctx, RegisterRequest{Email: "victim@example.com", Username: "squatter", Password: squatterPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	verifyToken := env.mail.lastToken(t)
	if err := env.engine.RequestPasswordReset(ctx, "victim@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken := env.mail.lastToken(t)

	sess, err := env.engine.LoginExternal(ctx, ExternalIdentity{Provider: "google", Subject: "g-123", Email: "victim@example.com"})
	if err != nil {
		t.Fatalf("LoginExternal failed: %v", err)
	}
	if sess.User.ID != reg.ID || !sess.User.EmailVerified || !sess.User.IsActive {
		t.Fatalf("expected linked verified account, got %+v", sess.User)
	}

	if _, err := env.login("victim@example.com", squatterPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected registrant password to be rejected, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, resetToken, "N3w!Passw0rd"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected pending reset token to be discarded, got %v", err)
	}
	if _, err := env.engine.VerifyEmail(ctx, verifyToken); !errors.Is(err, ErrInvalidVerificationToken) {
		t.Fatalf("expected pending verification token to be discarded, got %v", err)
	}

	stored := env.account(t, reg.ID)
	if stored.RefreshTokenHash == "" {
		t.Fatal("expected the provider session to be the active refresh token")
	}
	if !stored.HasIdentity("google", "g-123") {
		t.Fatal("expected identity stored on the account")
	}

	// A verified account keeps its password when a provider is linked.
	id := env.activeAccount(t, "owner@example.com")
	if _, err := env.engine.ResolveExternalIdentity(ctx, ExternalIdentity{Provider: "github", Subject: "7", Email: "owner@example.com"}); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if _, err := env.login("owner@example.com", testPassword, ""); err != nil {
		t.Fatalf("expected owner password to keep working, got %v", err)
	}
	if !env.account(t, id).HasIdentity("github", "7") {
		t.Fatal("expected identity stored on the verified account")
	}
}

func TestExternalIdentity_LoginExternal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.engine.LoginExternal(ctx, ExternalIdentity{Provider: "google", Subject: "g-1", Email: "grace@example.com"})
	if err != nil {
		t.Fatalf("LoginExternal failed: %v", err)
	}
	if sess.RefreshToken == "" || sess.User.Email != "grace@example.com" {
		t.Fatalf("unexpected session %+v", sess)
	}

	if err := env.engine.DisableAccount(ctx, sess.User.ID); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}
	if _, err := env.engine.LoginExternal(ctx, ExternalIdentity{Provider: "google", Subject: "g-1", Email: "grace@example.com"}); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLogin_UpgradesLegacyBcryptHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	now := env.clock.Now()
	if err := env.store.Create(ctx, &account.Account{
		ID:            "legacy-1",
		Email:         "old@example.com",
		Username:      "old",
		PasswordHash:  string(legacy),
		Role:          account.RoleAgent,
		IsActive:      true,
		EmailVerified: true,
		SecondFactor:  account.NoFactor{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sess, err := env.login("old@example.com", testPassword, "")
	if err != nil {
		t.Fatalf("login with bcrypt hash failed: %v", err)
	}
	if sess.User.Role != "agent" {
		t.Fatalf("expected stored role in session, got %q", sess.User.Role)
	}
	if hash := env.account(t, "legacy-1").PasswordHash; !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected hash upgraded to argon2id, got %q", hash)
	}
	if _, err := env.login("old@example.com", testPassword, ""); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestUserByID(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	user, err := env.engine.UserByID(context.Background(), id)
	if err != nil || user.Email != "alice@example.com" {
		t.Fatalf("unexpected UserByID result %+v, %v", user, err)
	}
	if _, err := env.engine.UserByID(context.Background(), "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
