package models

import (
	"math/big"
	"time"
)

// BatchJob is an ephemeral unit of work produced by the batch mint
// scheduler for a single submission attempt. It is never persisted.
type BatchJob struct {
	JobID     string
	Addresses []string   // deduplicated, normalized
	Amounts   []*big.Int // per-recipient amounts, aligned with Addresses
	CreatedAt time.Time
}
