package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authcore"
)

type fakeValidator struct {
	claims *authcore.AccessClaims
	err    error
	got    string
}

func (f *fakeValidator) ValidateAccess(_ context.Context, token string) (*authcore.AccessClaims, error) {
	f.got = token
	return f.claims, f.err
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardRejectsMissingToken(t *testing.T) {
	h := Guard(&fakeValidator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	if rec := serve(h, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := serve(h, "Basic abc"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for basic auth, got %d", rec.Code)
	}
}

func TestGuardRejectsInvalidToken(t *testing.T) {
	v := &fakeValidator{err: authcore.ErrTokenInvalid}
	h := Guard(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	if rec := serve(h, "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if v.got != "nope" {
		t.Fatalf("expected token passed through, got %q", v.got)
	}
}

func TestGuardStoresClaims(t *testing.T) {
	v := &fakeValidator{claims: &authcore.AccessClaims{AccountID: "acc-1", Role: "admin"}}
	var seen *authcore.AccessClaims
	h := Guard(v)(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := serve(h, "Bearer good")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.AccountID != "acc-1" {
		t.Fatalf("expected claims in context, got %+v", seen)
	}
}

func TestRequireRoleForbidden(t *testing.T) {
	v := &fakeValidator{claims: &authcore.AccessClaims{AccountID: "acc-1", Role: "client"}}
	h := Guard(v)(RequireRole("admin", "agent")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})))
	if rec := serve(h, "Bearer good"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequestMetadata(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected host only, got %q", got)
	}

	called := false
	RequestMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected next handler to run")
	}
}
