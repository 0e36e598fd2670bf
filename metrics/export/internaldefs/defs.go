package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed password logins."},
	{ID: authcore.MetricLoginLockedRejected, Name: "authcore_login_locked_rejected_total", Help: "Logins rejected because the account was locked."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked after crossing the failure threshold."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins paused for a second factor."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful second-factor checks."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed second-factor checks."},
	{ID: authcore.MetricTwoFactorAttemptsExceeded, Name: "authcore_two_factor_attempts_exceeded_total", Help: "Second-factor checks refused after the attempt budget was spent."},
	{ID: authcore.MetricTwoFactorEnrolled, Name: "authcore_two_factor_enrolled_total", Help: "Second-factor enrollments started."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Second factors activated."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Second factors disabled."},
	{ID: authcore.MetricOTPSent, Name: "authcore_otp_sent_total", Help: "Passwordless login codes issued."},
	{ID: authcore.MetricOTPSuccess, Name: "authcore_otp_success_total", Help: "Successful passwordless logins."},
	{ID: authcore.MetricOTPFailure, Name: "authcore_otp_failure_total", Help: "Rejected passwordless login codes."},
	{ID: authcore.MetricOTPExpired, Name: "authcore_otp_expired_total", Help: "Passwordless login codes presented after expiry."},
	{ID: authcore.MetricAccountCreated, Name: "authcore_account_created_total", Help: "Accounts created by registration, passwordless signup or external identity."},
	{ID: authcore.MetricAccountCreationDuplicate, Name: "authcore_account_creation_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions issued."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh or heartbeat tokens."},
	{ID: authcore.MetricHeartbeat, Name: "authcore_heartbeat_total", Help: "Successful heartbeats."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset links issued."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Successful password resets."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: authcore.MetricPasswordResetReuseDetected, Name: "authcore_password_reset_reuse_detected_total", Help: "Redeemed reset tokens presented again."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Verification links issued."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricExternalIdentityLinked, Name: "authcore_external_identity_linked_total", Help: "External identities linked to existing accounts."},
	{ID: authcore.MetricAccountDisabled, Name: "authcore_account_disabled_total", Help: "Accounts disabled by an operator."},
	{ID: authcore.MetricAccountEnabled, Name: "authcore_account_enabled_total", Help: "Accounts re-enabled by an operator."},
	{ID: authcore.MetricAccountUnlocked, Name: "authcore_account_unlocked_total", Help: "Lockouts cleared by an operator."},
	{ID: authcore.MetricNotifierFailure, Name: "authcore_notifier_failure_total", Help: "Email deliveries that failed."},
	{ID: authcore.MetricStoreConflictRetry, Name: "authcore_store_conflict_retry_total", Help: "Conditional saves retried after a version conflict."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "ValidateAccess latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
