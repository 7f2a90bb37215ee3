package models

import "time"

// ReferralBonus tracks a bonus mint issued to a referrer after the
// referred wallet's primary claim confirmed. Bonuses to the configured
// fallback address are intentionally not recorded here.
type ReferralBonus struct {
	ID              string    `json:"id" db:"id"`
	ClaimAddress    string    `json:"claimAddress" db:"claim_address"`
	ReferrerAddress string    `json:"referrerAddress" db:"referrer_address"`
	ReferrerCode    *string   `json:"referrerCode,omitempty" db:"referrer_code"`
	BonusAmount     string    `json:"bonusAmount" db:"bonus_amount"`
	TransactionRef  string    `json:"transactionRef" db:"transaction_ref"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}
