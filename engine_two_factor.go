package authcore

import (
	"context"

	internalflows "github.com/MrEthical07/authcore/internal/flows"
)

// EnrollTwoFactor starts second-factor enrollment for an account.
//
// For "totp" (or its alias "app") the returned enrollment carries the shared
// secret, an otpauth:// provisioning URI and a QR code data URL; the factor is
// enabled only after ConfirmTwoFactor. For "email" a code is sent and the
// factor becomes enabled on the first successful verification, either through
// ConfirmTwoFactor or a login. "sms" and unknown methods return
// ErrUnsupportedTwoFactorMethod.
func (e *Engine) EnrollTwoFactor(ctx context.Context, accountID, method string) (*TwoFactorEnrollment, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	enrollment, err := internalflows.RunEnrollTwoFactor(ctx, accountID, method, e.twoFactorFlowDeps())
	if err != nil {
		return nil, err
	}

	out := &TwoFactorEnrollment{Method: string(enrollment.Method)}
	if enrollment.Key != nil {
		out.Secret = enrollment.Key.Secret
		out.ProvisioningURI = enrollment.Key.ProvisioningURI
		out.QRCodeDataURL = enrollment.Key.QRCodeDataURL
	}
	return out, nil
}

// ConfirmTwoFactor verifies code against the pending factor and enables
// two-factor authentication.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, accountID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunConfirmTwoFactor(ctx, accountID, code, e.twoFactorFlowDeps())
}

// DisableTwoFactor removes the second factor. It returns
// ErrTwoFactorNotEnabled unless two-factor authentication is enabled.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunDisableTwoFactor(ctx, accountID, e.twoFactorFlowDeps())
}

func (e *Engine) generateTOTP(accountName string) (*internalflows.TOTPKey, error) {
	key, err := e.totp.Generate(accountName)
	if err != nil {
		return nil, err
	}
	return &internalflows.TOTPKey{
		Secret:          key.Secret,
		ProvisioningURI: key.URI,
		QRCodeDataURL:   key.QRCodeDataURL,
	}, nil
}

func (e *Engine) twoFactorFlowDeps() internalflows.TwoFactorDeps {
	return internalflows.TwoFactorDeps{
		Common:       e.flowCommon(),
		SecondFactor: e.secondFactorConfig(),
		GenerateTOTP: e.generateTOTP,
		Metrics: internalflows.TwoFactorMetrics{
			TwoFactorEnrolled: int(MetricTwoFactorEnrolled),
			TwoFactorEnabled:  int(MetricTwoFactorEnabled),
			TwoFactorDisabled: int(MetricTwoFactorDisabled),
			TwoFactorFailure:  int(MetricTwoFactorFailure),
		},
		Events: internalflows.TwoFactorEvents{
			TwoFactorEnrolled: auditEventTwoFactorEnrolled,
			TwoFactorEnabled:  auditEventTwoFactorEnabled,
			TwoFactorDisabled: auditEventTwoFactorDisabled,
			TwoFactorFailure:  auditEventTwoFactorFailure,
		},
		Errors: internalflows.TwoFactorErrors{
			EngineNotReady:       ErrEngineNotReady,
			AccountNotFound:      ErrAccountNotFound,
			AlreadyEnabled:       ErrTwoFactorAlreadyEnabled,
			NotEnabled:           ErrTwoFactorNotEnabled,
			UnsupportedMethod:    ErrUnsupportedTwoFactorMethod,
			InvalidTwoFactorCode: ErrInvalidTwoFactorCode,
		},
	}
}
