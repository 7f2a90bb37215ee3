package models

import (
	"time"

	"github.com/claim-pipeline/internal/types"
)

// ClaimRecord represents the durable record of one claim per wallet.
// One row per normalized address (lowercase primary key). Records are
// never deleted; they are the permanent audit trail of a wallet's claim.
type ClaimRecord struct {
	Address         string            `json:"address" db:"address"`
	Status          types.ClaimStatus `json:"status" db:"status"`
	TransactionRef  *string           `json:"transactionRef,omitempty" db:"transaction_ref"`
	MintAmount      string            `json:"mintAmount" db:"mint_amount"` // token quantity as decimal string
	ReferrerAddress *string           `json:"referrerAddress,omitempty" db:"referrer_address"`
	ReferrerCode    *string           `json:"referrerCode,omitempty" db:"referrer_code"`
	SubmittedAt     *time.Time        `json:"submittedAt,omitempty" db:"submitted_at"`
	ConfirmedAt     *time.Time        `json:"confirmedAt,omitempty" db:"confirmed_at"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`
}

// Ref decodes the stored transaction reference, if any.
func (c *ClaimRecord) Ref() (types.TransactionRef, bool) {
	if c.TransactionRef == nil || *c.TransactionRef == "" {
		return types.TransactionRef{}, false
	}
	ref, err := types.ParseTransactionRef(*c.TransactionRef)
	if err != nil {
		return types.TransactionRef{}, false
	}
	return ref, true
}

// HasReferrer reports whether a referral was recorded for this claim
func (c *ClaimRecord) HasReferrer() bool {
	return c.ReferrerAddress != nil && *c.ReferrerAddress != ""
}
