package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/account"
)

// Session is the payload returned by every flow that establishes or renews a
// session. The refresh token is only ever visible here.
type Session struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	ExpiresAt        time.Time   `json:"expiresAt"`
	RefreshExpiresAt time.Time   `json:"refreshExpiresAt"`
	User             UserView    `json:"user"`
	Session          SessionMeta `json:"session"`
}

// UserView is the public projection of an account.
type UserView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	IsActive      bool   `json:"isActive"`
}

// SessionMeta tells clients how often to send heartbeats.
type SessionMeta struct {
	LastHeartbeatAt          time.Time `json:"lastHeartbeatAt"`
	HeartbeatIntervalSeconds int       `json:"heartbeatIntervalSeconds"`
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	AccountID string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LoginRequest carries password login input. TwoFactorCode is only needed
// once Login has returned ErrTwoFactorRequired.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// RegisterRequest carries self-service registration input.
type RegisterRequest struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// ExternalIdentity is a verified identity asserted by an external provider.
type ExternalIdentity struct {
	Provider  string
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// TwoFactorEnrollment is returned by EnrollTwoFactor. For the email method
// only Method is set; the code travels by email.
type TwoFactorEnrollment struct {
	Method          string `json:"method"`
	Secret          string `json:"secret,omitempty"`
	ProvisioningURI string `json:"provisioningUri,omitempty"`
	QRCodeDataURL   string `json:"qrCode,omitempty"`
}

// Two-factor method names accepted by EnrollTwoFactor. "app" is an alias for
// totp and "sms" is always refused.
const (
	TwoFactorMethodTOTP  = "totp"
	TwoFactorMethodApp   = "app"
	TwoFactorMethodEmail = "email"
	TwoFactorMethodSMS   = "sms"
)

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Notifier delivers codes and links to account holders. Delivery is
// best-effort: the Engine logs errors and carries on.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

func userView(a *account.Account) UserView {
	return UserView{
		ID:            a.ID,
		Email:         a.Email,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Username:      a.Username,
		Role:          string(a.Role),
		EmailVerified: a.EmailVerified,
		IsActive:      a.IsActive,
	}
}
