package postgres

import (
	"context"
	"database/sql"
	"time"

	auth "github.com/Marriott12/armis-sub005"
)

// EventStore is the append-only security event log. It implements
// [auth.EventStore]; there is deliberately no update or delete method.
type EventStore struct {
	db *sql.DB
}

// Append writes one event. Rejected attempts must never be dropped, so
// transient connection failures are retried before giving up.
func (s *EventStore) Append(ctx context.Context, event auth.SecurityEvent) error {
	err := withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO security_events (id, event_type, account_id, username, client_ip, success, reason, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			event.ID, event.EventType, event.AccountID, event.Username,
			event.ClientIP, event.Success, event.Reason, event.OccurredAt)
		return execErr
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// ListByAccount returns events strictly after the given timestamp,
// oldest first. Paging on the last read timestamp gives a forward-only,
// restartable cursor.
func (s *EventStore) ListByAccount(ctx context.Context, accountID string, after time.Time, limit int) ([]auth.SecurityEvent, error) {
	var events []auth.SecurityEvent
	err := withRetry(ctx, func() error {
		events = nil
		rows, queryErr := s.db.QueryContext(ctx,
			`SELECT id, event_type, account_id, username, client_ip, success, reason, occurred_at
			   FROM security_events
			  WHERE account_id = $1 AND occurred_at > $2
			  ORDER BY occurred_at ASC
			  LIMIT $3`,
			accountID, after, limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			var event auth.SecurityEvent
			if scanErr := rows.Scan(&event.ID, &event.EventType, &event.AccountID,
				&event.Username, &event.ClientIP, &event.Success,
				&event.Reason, &event.OccurredAt); scanErr != nil {
				return scanErr
			}
			events = append(events, event)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return events, nil
}
