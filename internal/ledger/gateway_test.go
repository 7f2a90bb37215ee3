package ledger

import (
	"errors"
	"testing"

	pkgerrors "github.com/claim-pipeline/internal/errors"
)

func TestClassifySubmitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "contract revert is a rejection",
			err:      errors.New("execution reverted: minting disabled"),
			wantCode: pkgerrors.CodeSubmissionRejected,
		},
		{
			name:     "nonce error is a rejection",
			err:      errors.New("nonce too low"),
			wantCode: pkgerrors.CodeSubmissionRejected,
		},
		{
			name:     "insufficient funds is a rejection",
			err:      errors.New("insufficient funds for gas * price + value"),
			wantCode: pkgerrors.CodeSubmissionRejected,
		},
		{
			name:     "connection refused is transient",
			err:      errors.New("dial tcp 127.0.0.1:8545: connection refused"),
			wantCode: pkgerrors.CodeChainUnavailable,
		},
		{
			name:     "deadline exceeded is transient",
			err:      errors.New("context deadline exceeded"),
			wantCode: pkgerrors.CodeChainUnavailable,
		},
		{
			name:     "rate limiting is transient",
			err:      errors.New("429 Too Many Requests"),
			wantCode: pkgerrors.CodeChainUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySubmitError("mint", tt.err)
			if !pkgerrors.IsCode(got, tt.wantCode) {
				t.Errorf("classifySubmitError(%v) = %v, want code %s", tt.err, got, tt.wantCode)
			}
		})
	}
}

func TestRejectionsAreNotRetryable(t *testing.T) {
	rejected := classifySubmitError("mint", errors.New("execution reverted"))
	if pkgerrors.IsRetryable(rejected) {
		t.Error("submission rejection must not be retryable")
	}

	unavailable := classifySubmitError("mint", errors.New("connection reset by peer"))
	if !pkgerrors.IsRetryable(unavailable) {
		t.Error("chain unavailability must be retryable")
	}
}

func TestRPCProviderFailover(t *testing.T) {
	p, err := NewRPCProvider("https://primary.example", "https://secondary.example")
	if err != nil {
		t.Fatal(err)
	}

	if p.CurrentURL() != "https://primary.example" {
		t.Fatalf("initial URL = %s", p.CurrentURL())
	}

	if err := p.Failover(); err != nil {
		t.Fatal(err)
	}
	if p.CurrentURL() != "https://secondary.example" {
		t.Errorf("after failover URL = %s", p.CurrentURL())
	}

	// Failing over again flips back to primary.
	if err := p.Failover(); err != nil {
		t.Fatal(err)
	}
	if p.CurrentURL() != "https://primary.example" {
		t.Errorf("after second failover URL = %s", p.CurrentURL())
	}
}

func TestRPCProviderWithoutSecondary(t *testing.T) {
	p, err := NewRPCProvider("https://primary.example", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Failover(); err == nil {
		t.Error("expected failover to fail without a secondary endpoint")
	}

	if _, err := NewRPCProvider("", ""); err == nil {
		t.Error("expected constructor to reject empty primary URL")
	}
}
