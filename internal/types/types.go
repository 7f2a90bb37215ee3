// Package types provides common type definitions for the claim pipeline.
package types

import (
	"fmt"
	"regexp"
	"strings"
)

// ClaimStatus represents the lifecycle state of a claim record
type ClaimStatus string

const (
	// StatusUnclaimed represents a registered wallet with no submission yet
	StatusUnclaimed ClaimStatus = "unclaimed"
	// StatusPending represents a claim with a submission in flight
	StatusPending ClaimStatus = "pending"
	// StatusConfirmed represents a claim whose mint was accepted on-chain
	StatusConfirmed ClaimStatus = "confirmed"
	// StatusFailed represents a claim whose submission was rejected
	StatusFailed ClaimStatus = "failed"
	// StatusTimeout represents a claim whose submission outlived the reconciliation window
	StatusTimeout ClaimStatus = "timeout"
)

// IsTerminal reports whether the status is a resting state for the record
func (s ClaimStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimeout
}

// ReceiptStatus represents the chain-side outcome of a submitted transaction
type ReceiptStatus string

const (
	// ReceiptPending means the transaction is not yet included in a block
	ReceiptPending ReceiptStatus = "pending"
	// ReceiptSuccess means the transaction was included and executed successfully
	ReceiptSuccess ReceiptStatus = "success"
	// ReceiptReverted means the transaction was included but reverted
	ReceiptReverted ReceiptStatus = "reverted"
)

// RefKind discriminates real on-chain transaction references from sentinel markers
type RefKind string

const (
	// RefReal is a real on-chain transaction hash
	RefReal RefKind = "real"
	// RefAlreadyFunded marks a claim resolved because the wallet already held tokens
	RefAlreadyFunded RefKind = "already_funded"
	// RefSyncedExternally marks a claim resolved by an external mint path
	RefSyncedExternally RefKind = "synced_externally"
)

// Sentinel encodings stored in the transaction_ref column.
// They intentionally do not parse as transaction hashes.
const (
	sentinelAlreadyFunded    = "sentinel:already-funded"
	sentinelSyncedExternally = "sentinel:synced-externally"
)

var txHashPattern = regexp.MustCompile("^0x[a-fA-F0-9]{64}$")

// TransactionRef is a tagged reference stored in a claim's transaction field.
// A real reference carries a 32-byte hash; sentinel kinds carry no hash.
type TransactionRef struct {
	Kind RefKind
	Hash string
}

// RealTx creates a reference to an on-chain transaction hash
func RealTx(hash string) TransactionRef {
	return TransactionRef{Kind: RefReal, Hash: strings.ToLower(hash)}
}

// AlreadyFunded returns the sentinel reference for wallets that held tokens already
func AlreadyFunded() TransactionRef {
	return TransactionRef{Kind: RefAlreadyFunded}
}

// SyncedExternally returns the sentinel reference for externally minted wallets
func SyncedExternally() TransactionRef {
	return TransactionRef{Kind: RefSyncedExternally}
}

// IsReal reports whether the reference points at a real on-chain transaction
func (r TransactionRef) IsReal() bool {
	return r.Kind == RefReal
}

// IsZero reports whether the reference is unset
func (r TransactionRef) IsZero() bool {
	return r.Kind == ""
}

// String returns the database encoding of the reference
func (r TransactionRef) String() string {
	switch r.Kind {
	case RefReal:
		return r.Hash
	case RefAlreadyFunded:
		return sentinelAlreadyFunded
	case RefSyncedExternally:
		return sentinelSyncedExternally
	default:
		return ""
	}
}

// ParseTransactionRef decodes a stored transaction reference. Real hashes
// must be well-formed 0x-prefixed 32-byte hex strings; anything else that
// is not a known sentinel is rejected.
func ParseTransactionRef(s string) (TransactionRef, error) {
	switch s {
	case "":
		return TransactionRef{}, fmt.Errorf("empty transaction reference")
	case sentinelAlreadyFunded:
		return AlreadyFunded(), nil
	case sentinelSyncedExternally:
		return SyncedExternally(), nil
	}

	if !txHashPattern.MatchString(s) {
		return TransactionRef{}, fmt.Errorf("malformed transaction reference: %s", s)
	}

	return RealTx(s), nil
}

// ValidTxHash reports whether a string is a well-formed transaction hash
func ValidTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
