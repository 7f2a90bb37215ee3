package models

import (
	"time"

	"github.com/claim-pipeline/internal/types"
)

// ClaimEventType labels an entry in the audit event log
type ClaimEventType string

// Event types written to the audit log. One event per observed
// transition, including idempotent re-observations.
const (
	ClaimEventRegistered ClaimEventType = "registered"
	ClaimEventStarted    ClaimEventType = "claim_started"
	ClaimEventSubmitted  ClaimEventType = "submitted"
	ClaimEventConfirmed  ClaimEventType = "confirmed"
	ClaimEventFailed     ClaimEventType = "failed"
	ClaimEventTimeout    ClaimEventType = "timeout"
	ClaimEventRetried    ClaimEventType = "retried"
	ClaimEventBonusPaid  ClaimEventType = "bonus_paid"
)

// ClaimEvent is an append-only audit record of a claim transition
type ClaimEvent struct {
	EventID        string             `json:"eventId"`
	Address        string             `json:"address"`
	EventType      ClaimEventType     `json:"eventType"`
	FromStatus     types.ClaimStatus  `json:"fromStatus"`
	ToStatus       types.ClaimStatus  `json:"toStatus"`
	TransactionRef string             `json:"transactionRef,omitempty"`
	Detail         string             `json:"detail,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
}
