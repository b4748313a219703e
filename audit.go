package auth

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Audit event types recorded by the engine. These are the only values the
// event store's event_type column holds.
const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventLoginRateLimited  = "login_rate_limited"
	auditEventMFARequired       = "mfa_required"
	auditEventMFASuccess        = "mfa_success"
	auditEventMFAFailure        = "mfa_failure"
	auditEventMFAEnrolled       = "mfa_enrolled"
	auditEventMFAEnabled        = "mfa_enabled"
	auditEventMFADisabled       = "mfa_disabled"
	auditEventBackupCodesIssued = "backup_codes_issued"
	auditEventBackupCodeUsed    = "backup_code_used"
	auditEventTokenRefreshed    = "token_refreshed"
	auditEventTokenReplay       = "token_replay_rejected"
	auditEventTokensRevoked     = "tokens_revoked"
)

// recordEvent appends a security event to the durable store and hands a
// copy to the async audit dispatcher. Rejected attempts are never dropped
// silently: a store failure is surfaced in the process log.
func (e *Engine) recordEvent(ctx context.Context, eventType string, success bool, account, username, sessionID, ip, reason string) {
	if e == nil {
		return
	}

	now := time.Now().UTC()
	if e.events != nil {
		row := SecurityEvent{
			ID:         uuid.NewString(),
			EventType:  eventType,
			AccountID:  account,
			Username:   username,
			ClientIP:   ip,
			Success:    success,
			Reason:     reason,
			OccurredAt: now,
		}
		if err := e.events.Append(ctx, row); err != nil {
			log.Printf("auth: security event append failed (type=%s): %v", eventType, err)
		}
	}

	if e.audit != nil {
		e.audit.Emit(ctx, AuditEvent{
			Timestamp: now,
			EventType: eventType,
			AccountID: account,
			Username:  username,
			ClientIP:  ip,
			SessionID: sessionID,
			Success:   success,
			Reason:    reason,
		})
	}
}

// AuditTrail returns the account's security events after the given
// timestamp, oldest first, at most limit entries. Passing the timestamp
// of the last entry read resumes the sequence, making the reader
// forward-only and restartable.
func (e *Engine) AuditTrail(ctx context.Context, accountID string, after time.Time, limit int) ([]SecurityEvent, error) {
	if e == nil || e.events == nil {
		return nil, ErrEngineNotReady
	}
	if limit <= 0 {
		limit = 100
	}
	return e.events.ListByAccount(ctx, accountID, after, limit)
}
