package auth

import (
	"context"
	"fmt"
	"log"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// SetupMFA starts TOTP enrollment for the account. It stores a disabled
// enrollment with a fresh secret, mints a new batch of backup codes, and
// returns the provisioning material. The enrollment only takes effect
// after [Engine.ConfirmMFA] proves the authenticator was seeded.
//
// Calling SetupMFA again before confirmation replaces the pending
// enrollment; calling it on an enabled account returns
// [ErrMFAAlreadyEnabled].
func (e *Engine) SetupMFA(ctx context.Context, accountID string) (*MFASetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	existing, err := e.mfa.GetEnrollment(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil && existing.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	enrollment := MFAEnrollment{
		AccountID: accountID,
		Secret:    secret,
		Enabled:   false,
		LastStep:  0,
		CreatedAt: now,
	}
	if err := e.mfa.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	display, records, err := mintBackupCodes(accountID, e.config.TOTP.BackupCodeCount, now)
	if err != nil {
		return nil, err
	}
	if err := e.mfa.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	uri := e.totp.ProvisionURI(secretBase32, account.Username)

	var png []byte
	if e.config.TOTP.QRSize > 0 {
		png, err = qrcode.Encode(uri, qrcode.Medium, e.config.TOTP.QRSize)
		if err != nil {
			// Provisioning still works from the URI and secret alone.
			log.Printf("auth: qr render failed for account %s: %v", accountID, err)
			png = nil
		}
	}

	e.recordEvent(ctx, auditEventMFAEnrolled, true, accountID, account.Username, "", ip, "pending confirmation")
	e.recordEvent(ctx, auditEventBackupCodesIssued, true, accountID, account.Username, "", ip, "")

	return &MFASetup{
		Secret:          secretBase32,
		ProvisioningURI: uri,
		QRPNG:           png,
		BackupCodes:     display,
	}, nil
}

// ConfirmMFA turns a pending enrollment on after the account proves it
// can produce a valid code from the provisioned secret.
func (e *Engine) ConfirmMFA(ctx context.Context, accountID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)

	enrollment, err := e.mfa.GetEnrollment(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if enrollment == nil {
		return ErrMFANotEnrolled
	}
	if enrollment.Enabled {
		return ErrMFAAlreadyEnabled
	}

	ok, step, err := e.totp.VerifyCode(enrollment.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		e.recordEvent(ctx, auditEventMFAFailure, false, accountID, "", "", ip, "confirmation code mismatch")
		return ErrInvalidMFACode
	}

	advanced, err := e.mfa.UpdateLastStep(ctx, accountID, step)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !advanced {
		return ErrMFAReplayed
	}
	if err := e.mfa.SetEnabled(ctx, accountID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.recordEvent(ctx, auditEventMFAEnabled, true, accountID, "", "", ip, "")
	return nil
}

// DisableMFA turns MFA off and invalidates the account's backup codes.
// An enabled enrollment demands a fresh TOTP code, so a hijacked session
// alone cannot strip the second factor.
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)

	enrollment, err := e.mfa.GetEnrollment(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if enrollment == nil {
		return ErrMFANotEnrolled
	}
	if enrollment.Enabled {
		if err := e.requireFreshCode(ctx, accountID, enrollment, code, ip); err != nil {
			return err
		}
	}

	if err := e.mfa.SetEnabled(ctx, accountID, false); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.mfa.ReplaceBackupCodes(ctx, accountID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.recordEvent(ctx, auditEventMFADisabled, true, accountID, "", "", ip, "")
	return nil
}

// RegenerateBackupCodes mints a fresh batch, invalidating every
// outstanding code, used or not. The plaintext codes are returned once.
// An enabled enrollment demands a fresh TOTP code first.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)

	enrollment, err := e.mfa.GetEnrollment(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if enrollment == nil {
		return nil, ErrMFANotEnrolled
	}
	if enrollment.Enabled {
		if err := e.requireFreshCode(ctx, accountID, enrollment, code, ip); err != nil {
			return nil, err
		}
	}

	display, records, err := mintBackupCodes(accountID, e.config.TOTP.BackupCodeCount, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := e.mfa.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.recordEvent(ctx, auditEventBackupCodesIssued, true, accountID, "", "", ip, "regenerated")
	return display, nil
}

// requireFreshCode verifies a TOTP code against the enrollment and
// advances the replay guard, for operations that must re-prove
// possession of the authenticator.
func (e *Engine) requireFreshCode(ctx context.Context, accountID string, enrollment *MFAEnrollment, code, ip string) error {
	ok, step, err := e.totp.VerifyCode(enrollment.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		e.recordEvent(ctx, auditEventMFAFailure, false, accountID, "", "", ip, "reproof code mismatch")
		return ErrInvalidMFACode
	}
	if step <= enrollment.LastStep {
		e.recordEvent(ctx, auditEventMFAFailure, false, accountID, "", "", ip, "reproof totp replay")
		return ErrMFAReplayed
	}
	advanced, err := e.mfa.UpdateLastStep(ctx, accountID, step)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !advanced {
		e.recordEvent(ctx, auditEventMFAFailure, false, accountID, "", "", ip, "reproof totp replay")
		return ErrMFAReplayed
	}
	return nil
}
