package types

import (
	"testing"
)

func TestParseTransactionRef(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind RefKind
		wantErr  bool
	}{
		{
			name:     "valid transaction hash",
			input:    "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
			wantKind: RefReal,
		},
		{
			name:     "valid mixed-case hash",
			input:    "0xDDF252AD1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
			wantKind: RefReal,
		},
		{
			name:     "already funded sentinel",
			input:    "sentinel:already-funded",
			wantKind: RefAlreadyFunded,
		},
		{
			name:     "synced externally sentinel",
			input:    "sentinel:synced-externally",
			wantKind: RefSyncedExternally,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "too short",
			input:   "0xdeadbeef",
			wantErr: true,
		},
		{
			name:    "missing prefix",
			input:   "ddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
			wantErr: true,
		},
		{
			name:    "non-hex characters",
			input:   "0xzzf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
			wantErr: true,
		},
		{
			name:    "unknown sentinel",
			input:   "sentinel:something-else",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseTransactionRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q, got ref %+v", tt.input, ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", ref.Kind, tt.wantKind)
			}
		})
	}
}

func TestTransactionRefRoundTrip(t *testing.T) {
	refs := []TransactionRef{
		RealTx("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
		AlreadyFunded(),
		SyncedExternally(),
	}

	for _, ref := range refs {
		parsed, err := ParseTransactionRef(ref.String())
		if err != nil {
			t.Fatalf("round trip failed for %+v: %v", ref, err)
		}
		if parsed != ref {
			t.Errorf("round trip mismatch: got %+v, want %+v", parsed, ref)
		}
	}
}

func TestSentinelRefsAreNotReal(t *testing.T) {
	if AlreadyFunded().IsReal() {
		t.Error("already-funded sentinel must not be treated as a real transaction")
	}
	if SyncedExternally().IsReal() {
		t.Error("synced-externally sentinel must not be treated as a real transaction")
	}
	if ValidTxHash(AlreadyFunded().String()) {
		t.Error("sentinel encoding must not parse as a transaction hash")
	}
}

func TestClaimStatusIsTerminal(t *testing.T) {
	terminal := []ClaimStatus{StatusConfirmed, StatusFailed, StatusTimeout}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	for _, s := range []ClaimStatus{StatusUnclaimed, StatusPending} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
