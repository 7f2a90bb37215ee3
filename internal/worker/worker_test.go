package worker

import (
	"context"
	"math/big"
	"sync"
	"time"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/types"
)

// Shared mocks for the worker tests

type mockStore struct {
	mu      sync.Mutex
	records map[string]*models.ClaimRecord
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*models.ClaimRecord)}
}

func (m *mockStore) add(record *models.ClaimRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Address] = record
}

func (m *mockStore) status(address string) types.ClaimStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[address].Status
}

func (m *mockStore) ListPendingWithRef(_ context.Context) ([]*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClaimRecord
	for _, r := range m.records {
		if r.Status == types.StatusPending && r.TransactionRef != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) ListStalePending(_ context.Context, cutoff time.Time) ([]*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClaimRecord
	for _, r := range m.records {
		if r.Status == types.StatusPending && r.TransactionRef == nil &&
			r.SubmittedAt != nil && !r.SubmittedAt.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) ListUnminted(_ context.Context, limit int) ([]*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClaimRecord
	for _, r := range m.records {
		if r.Status == types.StatusUnclaimed && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) ClaimBatch(_ context.Context, addresses []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []string
	now := time.Now()
	for _, addr := range addresses {
		if r, ok := m.records[addr]; ok && r.Status == types.StatusUnclaimed {
			r.Status = types.StatusPending
			r.SubmittedAt = &now
			claimed = append(claimed, addr)
		}
	}
	return claimed, nil
}

func (m *mockStore) RecordSubmission(_ context.Context, address string, ref types.TransactionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[address]; ok && r.Status == types.StatusPending {
		s := ref.String()
		r.TransactionRef = &s
	}
	return nil
}

func (m *mockStore) FinalizeSuccess(_ context.Context, address string, ref types.TransactionRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[address]
	if !ok {
		return false, pkgerrors.NewClaimNotFoundError(address)
	}
	if r.Status == types.StatusConfirmed {
		return false, nil
	}
	s := ref.String()
	now := time.Now()
	r.Status = types.StatusConfirmed
	r.TransactionRef = &s
	r.ConfirmedAt = &now
	return true, nil
}

func (m *mockStore) FinalizeFailure(_ context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[address]
	if !ok {
		return false, pkgerrors.NewClaimNotFoundError(address)
	}
	if r.Status != types.StatusPending {
		return false, nil
	}
	r.Status = types.StatusFailed
	return true, nil
}

func (m *mockStore) MarkTimeout(_ context.Context, address string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[address]
	if !ok {
		return false, pkgerrors.NewClaimNotFoundError(address)
	}
	if r.Status != types.StatusPending || r.SubmittedAt == nil || r.SubmittedAt.After(cutoff) {
		return false, nil
	}
	r.Status = types.StatusTimeout
	return true, nil
}

func (m *mockStore) Get(_ context.Context, address string) (*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[address]
	if !ok {
		return nil, pkgerrors.NewClaimNotFoundError(address)
	}
	copied := *r
	return &copied, nil
}

type mockChain struct {
	mu sync.Mutex

	receipts     map[string]types.ReceiptStatus
	receiptErr   map[string]error
	receiptCalls int

	balances map[string]*big.Int

	mintHash  string
	mintErrs  map[string]error
	mintCalls []string

	batchHash  string
	batchErr   error
	batchCalls [][]string
}

func newMockChain() *mockChain {
	return &mockChain{
		receipts:   make(map[string]types.ReceiptStatus),
		receiptErr: make(map[string]error),
		balances:   make(map[string]*big.Int),
		mintErrs:   make(map[string]error),
	}
}

func (c *mockChain) GetReceipt(_ context.Context, txHash string) (types.ReceiptStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptCalls++
	if err, ok := c.receiptErr[txHash]; ok {
		return types.ReceiptPending, err
	}
	if status, ok := c.receipts[txHash]; ok {
		return status, nil
	}
	return types.ReceiptPending, nil
}

func (c *mockChain) BalanceOf(_ context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[address]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (c *mockChain) Mint(_ context.Context, address string, _ *big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mintCalls = append(c.mintCalls, address)
	if err, ok := c.mintErrs[address]; ok {
		return "", err
	}
	return c.mintHash, nil
}

func (c *mockChain) BatchMint(_ context.Context, addresses []string, _ []*big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls = append(c.batchCalls, addresses)
	if c.batchErr != nil {
		return "", c.batchErr
	}
	return c.batchHash, nil
}

type mockGranter struct {
	mu      sync.Mutex
	granted []string
}

func (g *mockGranter) Grant(_ context.Context, claim *models.ClaimRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = append(g.granted, claim.Address)
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
