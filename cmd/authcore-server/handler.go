package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const maxJSONBodyBytes = 64 << 10

type server struct {
	engine  *authcore.Engine
	logger  *zap.Logger
	limiter requestLimiter
}

func newServer(engine *authcore.Engine, logger *zap.Logger, limiter requestLimiter) *server {
	return &server{engine: engine, logger: logger, limiter: limiter}
}

func (s *server) routes() *http.ServeMux {
	guard := middleware.Guard(s.engine)
	limited := func(h http.HandlerFunc) http.Handler {
		return middleware.RequestMetadata(s.limiter.middleware(h))
	}
	public := func(h http.HandlerFunc) http.Handler {
		return middleware.RequestMetadata(h)
	}
	private := func(h http.HandlerFunc) http.Handler {
		return middleware.RequestMetadata(guard(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", public(s.register))
	mux.Handle("POST /auth/login", limited(s.login))
	mux.Handle("GET /auth/verify-email", public(s.verifyEmail))
	mux.Handle("POST /auth/resend-verification", limited(s.resendVerification))
	mux.Handle("POST /auth/forgot-password", limited(s.forgotPassword))
	mux.Handle("POST /auth/reset-password", limited(s.resetPassword))
	mux.Handle("POST /auth/enable-2fa", private(s.enableTwoFactor))
	mux.Handle("POST /auth/verify-2fa", private(s.verifyTwoFactor))
	mux.Handle("POST /auth/disable-2fa", private(s.disableTwoFactor))
	mux.Handle("POST /auth/send-otp", limited(s.sendOTP))
	mux.Handle("POST /auth/verify-otp", limited(s.verifyOTP))
	mux.Handle("POST /auth/refresh", public(s.refresh))
	mux.Handle("POST /auth/heartbeat", public(s.heartbeat))
	mux.Handle("POST /auth/logout", public(s.logout))
	mux.Handle("GET /auth/me", private(s.me))
	mux.HandleFunc("GET /health", s.health)
	return mux
}

/*
====================================
HANDLERS
====================================
*/

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeBody(w, r, &body) {
		return
	}
	user, err := s.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:     body.Email,
		Username:  body.Username,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful. Please check your email to verify your account.",
		"user":    user,
	})
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := s.engine.Login(r.Context(), authcore.LoginRequest{
		Email:         body.Email,
		Password:      body.Password,
		TwoFactorCode: body.TwoFactorCode,
	})
	if err != nil {
		if errors.Is(err, authcore.ErrTwoFactorRequired) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":             err.Error(),
				"requiresTwoFactor": true,
			})
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Email verified successfully.",
		"user":    user,
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.ResendVerification(r.Context(), body.Email); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, "If this email needs verification, a new link has been sent.")
}

func (s *server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, "If this email is registered, a password reset link has been sent.")
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.ConfirmPasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, "Password reset successfully.")
}

type enableTwoFactorRequest struct {
	Method string `json:"method"`
}

func (s *server) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body enableTwoFactorRequest
	if !decodeBody(w, r, &body) {
		return
	}
	enrollment, err := s.engine.EnrollTwoFactor(r.Context(), accountID(r), body.Method)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *server) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.ConfirmTwoFactor(r.Context(), accountID(r), body.Code); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, "Two-factor authentication enabled.")
}

func (s *server) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DisableTwoFactor(r.Context(), accountID(r)); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, "Two-factor authentication disabled.")
}

func (s *server) sendOTP(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.SendLoginCode(r.Context(), body.Email); err != nil {
		s.fail(w, err)
		return
	}
	writeMessage(w, "Login code sent to your email.")
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPRequest
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := s.engine.VerifyLoginCode(r.Context(), body.Email, body.Code)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := s.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}
	sess, err := s.engine.Heartbeat(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.Logout(r.Context(), body.RefreshToken); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.UserByID(r.Context(), accountID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	health := s.engine.Health(r.Context())
	status, code := "ok", http.StatusOK
	if !health.StoreAvailable {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"storeLatencyMs": health.StoreLatency.Milliseconds(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

/*
====================================
HELPERS
====================================
*/

func accountID(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.AccountID
}

// statusFor maps engine errors to HTTP status codes. Unknown errors are
// server faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrAccountLocked),
		errors.Is(err, authcore.ErrTooManyTwoFactorAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTwoFactorRequired),
		errors.Is(err, authcore.ErrInvalidTwoFactorCode),
		errors.Is(err, authcore.ErrInvalidOtpCode),
		errors.Is(err, authcore.ErrOtpCodeExpired),
		errors.Is(err, authcore.ErrRefreshTokenInvalid),
		errors.Is(err, authcore.ErrRefreshTokenExpired),
		errors.Is(err, authcore.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrEmailNotVerified),
		errors.Is(err, authcore.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, authcore.ErrInvalidEmail),
		errors.Is(err, authcore.ErrInvalidUsername),
		errors.Is(err, authcore.ErrPasswordPolicy),
		errors.Is(err, authcore.ErrInvalidResetToken),
		errors.Is(err, authcore.ErrResetTokenReused),
		errors.Is(err, authcore.ErrResetTokenExpired),
		errors.Is(err, authcore.ErrInvalidVerificationToken),
		errors.Is(err, authcore.ErrVerificationTokenExpired),
		errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled),
		errors.Is(err, authcore.ErrTwoFactorNotEnabled),
		errors.Is(err, authcore.ErrUnsupportedTwoFactorMethod),
		errors.Is(err, authcore.ErrInvalidExternalIdentity):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrStoreUnavailable),
		errors.Is(err, authcore.ErrStoreConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if retry := authcore.RetryAfter(err); retry > 0 {
		seconds := int(retry.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	if status >= http.StatusInternalServerError {
		sentry.CaptureException(err)
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
