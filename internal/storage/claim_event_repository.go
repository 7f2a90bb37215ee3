package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/models"
)

// ClaimEventLog records audit events for claim transitions. Recording
// is best effort everywhere it is called: a lost audit event never
// blocks or fails a claim.
type ClaimEventLog interface {
	Record(ctx context.Context, event *models.ClaimEvent)
}

// ClickHouseEventLog writes claim events to the ClickHouse audit table
type ClickHouseEventLog struct {
	db     *ClickHouseDB
	logger *logging.Logger
}

// NewClickHouseEventLog creates a ClickHouse-backed event log
func NewClickHouseEventLog(db *ClickHouseDB, logger *logging.Logger) *ClickHouseEventLog {
	return &ClickHouseEventLog{db: db, logger: logger}
}

// Record appends one claim event. Errors are logged and swallowed.
func (l *ClickHouseEventLog) Record(ctx context.Context, event *models.ClaimEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	err := l.db.Exec(ctx, `
		INSERT INTO claim_events
			(event_id, address, event_type, from_status, to_status, transaction_ref, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		event.Address,
		string(event.EventType),
		string(event.FromStatus),
		string(event.ToStatus),
		event.TransactionRef,
		event.Detail,
		event.OccurredAt,
	)
	if err != nil {
		l.logger.WithError(err).WithFields(map[string]interface{}{
			"address":    event.Address,
			"event_type": event.EventType,
		}).Warn("Failed to record claim event")
	}
}

// NoopEventLog discards events, used when ClickHouse is disabled
type NoopEventLog struct{}

// NewNoopEventLog creates an event log that drops everything
func NewNoopEventLog() *NoopEventLog {
	return &NoopEventLog{}
}

// Record discards the event
func (l *NoopEventLog) Record(_ context.Context, _ *models.ClaimEvent) {}
