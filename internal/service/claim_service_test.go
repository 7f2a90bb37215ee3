package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/storage"
	"github.com/claim-pipeline/internal/types"
)

// Mocks shared by the service tests

type mockClaimStore struct {
	mu      sync.Mutex
	records map[string]*models.ClaimRecord
}

func newMockClaimStore() *mockClaimStore {
	return &mockClaimStore{records: make(map[string]*models.ClaimRecord)}
}

func (m *mockClaimStore) BeginClaim(_ context.Context, address, mintAmount string) (*storage.BeginClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[address]
	if !ok {
		now := time.Now()
		record := &models.ClaimRecord{
			Address:     address,
			Status:      types.StatusPending,
			MintAmount:  mintAmount,
			SubmittedAt: &now,
		}
		m.records[address] = record
		return &storage.BeginClaimResult{Outcome: storage.BeginStarted, Record: record}, nil
	}

	switch existing.Status {
	case types.StatusUnclaimed:
		now := time.Now()
		existing.Status = types.StatusPending
		existing.MintAmount = mintAmount
		existing.SubmittedAt = &now
		return &storage.BeginClaimResult{Outcome: storage.BeginStarted, Record: existing}, nil
	case types.StatusPending:
		return &storage.BeginClaimResult{Outcome: storage.BeginInFlight, Record: existing}, nil
	case types.StatusConfirmed:
		return &storage.BeginClaimResult{Outcome: storage.BeginAlreadyConfirmed, Record: existing}, nil
	default:
		return &storage.BeginClaimResult{Outcome: storage.BeginRetryRequired, Record: existing}, nil
	}
}

func (m *mockClaimStore) RecordSubmission(_ context.Context, address string, ref types.TransactionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[address]; ok && r.Status == types.StatusPending {
		s := ref.String()
		r.TransactionRef = &s
	}
	return nil
}

func (m *mockClaimStore) FinalizeSuccess(_ context.Context, address string, ref types.TransactionRef) (bool, error) {
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

func (m *mockClaimStore) FinalizeFailure(_ context.Context, address string) (bool, error) {
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

func (m *mockClaimStore) ResetForRetry(_ context.Context, address string) (*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[address]
	if !ok {
		return nil, pkgerrors.NewClaimNotFoundError(address)
	}
	if r.Status != types.StatusFailed && r.Status != types.StatusTimeout {
		return nil, pkgerrors.NewInvalidStateError(address, r.Status, "retry")
	}
	now := time.Now()
	r.Status = types.StatusPending
	r.TransactionRef = nil
	r.SubmittedAt = &now
	return r, nil
}

func (m *mockClaimStore) RegisterIntent(_ context.Context, address, mintAmount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[address]; !ok {
		m.records[address] = &models.ClaimRecord{
			Address:    address,
			Status:     types.StatusUnclaimed,
			MintAmount: mintAmount,
		}
	}
	return nil
}

func (m *mockClaimStore) SetReferrer(_ context.Context, address, referrerAddress, referrerCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[address]; ok && r.ReferrerAddress == nil {
		r.ReferrerAddress = &referrerAddress
		if referrerCode != "" {
			r.ReferrerCode = &referrerCode
		}
	}
	return nil
}

func (m *mockClaimStore) Get(_ context.Context, address string) (*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[address]
	if !ok {
		return nil, pkgerrors.NewClaimNotFoundError(address)
	}
	copied := *r
	return &copied, nil
}

func (m *mockClaimStore) ListTerminalFailed(_ context.Context) ([]*models.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClaimRecord
	for _, r := range m.records {
		if r.Status == types.StatusFailed || r.Status == types.StatusTimeout {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockClaimStore) status(address string) types.ClaimStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[address]; ok {
		return r.Status
	}
	return ""
}

type mockGateway struct {
	mu sync.Mutex

	balance       *big.Int
	balanceErr    error
	mintHash      string
	mintErr       error
	receiptStatus types.ReceiptStatus
	receiptErr    error

	mintCalls      []string
	batchMintCalls [][]string
	batchHash      string
	batchErr       error
}

func (g *mockGateway) BalanceOf(_ context.Context, _ string) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balanceErr != nil {
		return nil, g.balanceErr
	}
	if g.balance == nil {
		return big.NewInt(0), nil
	}
	return g.balance, nil
}

func (g *mockGateway) Mint(_ context.Context, address string, _ *big.Int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mintCalls = append(g.mintCalls, address)
	if g.mintErr != nil {
		return "", g.mintErr
	}
	return g.mintHash, nil
}

func (g *mockGateway) BatchMint(_ context.Context, addresses []string, _ []*big.Int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batchMintCalls = append(g.batchMintCalls, addresses)
	if g.batchErr != nil {
		return "", g.batchErr
	}
	return g.batchHash, nil
}

func (g *mockGateway) GetReceipt(_ context.Context, _ string) (types.ReceiptStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.receiptErr != nil {
		return types.ReceiptPending, g.receiptErr
	}
	return g.receiptStatus, nil
}

func (g *mockGateway) mintCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.mintCalls)
}

func (g *mockGateway) setReceiptStatus(status types.ReceiptStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receiptStatus = status
}

const (
	testWallet = "0x1B3cB81E51011b549d78bf720b0d924ac763A7C5"
	testHash   = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

// normalized form of testWallet
const testWalletLower = "0x1b3cb81e51011b549d78bf720b0d924ac763a7c5"

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}

func newTestService(store ClaimStore, gateway *mockGateway, clock clockwork.Clock) *ClaimService {
	return NewClaimService(store, gateway, nil, nil, nil, clock, ClaimServiceConfig{
		SubmitWait:          time.Minute,
		ReceiptPollInterval: time.Second,
		ReceiptPollBudget:   30 * time.Minute,
		SkipBalanceCheck:    true,
	}, testLogger())
}

func TestSubmitClaim_ConfirmsWithinWait(t *testing.T) {
	store := newMockClaimStore()
	gateway := &mockGateway{mintHash: testHash, receiptStatus: types.ReceiptSuccess}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, gateway, clock)

	resultCh := make(chan *ClaimResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := svc.SubmitClaim(context.Background(), &ClaimInput{
			Address: testWallet,
			Amount:  "1000",
		})
		resultCh <- result
		errCh <- err
	}()

	// Two waiters: the submit wait and the first receipt poll
	clock.BlockUntil(2)
	clock.Advance(time.Second)

	result := <-resultCh
	require.NoError(t, <-errCh)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, testWalletLower, result.Address)
	require.NotNil(t, result.TransactionRef)
	assert.Equal(t, testHash, *result.TransactionRef)
	assert.Equal(t, types.StatusConfirmed, store.status(testWalletLower))
}

func TestSubmitClaim_DetachesOnSlowChain(t *testing.T) {
	store := newMockClaimStore()
	gateway := &mockGateway{mintHash: testHash, receiptStatus: types.ReceiptPending}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, gateway, clock)

	resultCh := make(chan *ClaimResult, 1)
	go func() {
		result, _ := svc.SubmitClaim(context.Background(), &ClaimInput{
			Address: testWallet,
			Amount:  "1000",
		})
		resultCh <- result
	}()

	clock.BlockUntil(2)
	clock.Advance(time.Minute)

	result := <-resultCh
	assert.Equal(t, OutcomePending, result.Outcome)
	assert.Equal(t, types.StatusPending, result.Status)

	// The record keeps its submission ref for the sweeper
	record, err := store.Get(context.Background(), testWalletLower)
	require.NoError(t, err)
	require.NotNil(t, record.TransactionRef)
	assert.Equal(t, testHash, *record.TransactionRef)

	// The detached goroutine keeps polling after the caller got its
	// answer. Once the chain confirms, the record converges with no
	// further client request.
	gateway.setReceiptStatus(types.ReceiptSuccess)
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return store.status(testWalletLower) == types.StatusConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	record, err = store.Get(context.Background(), testWalletLower)
	require.NoError(t, err)
	require.NotNil(t, record.ConfirmedAt)
	assert.Equal(t, testHash, *record.TransactionRef)
}

func TestSubmitClaim_RejectionFailsFast(t *testing.T) {
	store := newMockClaimStore()
	gateway := &mockGateway{
		mintErr: pkgerrors.NewSubmissionRejectedError("mint", assert.AnError),
	}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, gateway, clock)

	result, err := svc.SubmitClaim(context.Background(), &ClaimInput{
		Address: testWallet,
		Amount:  "1000",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSubmissionRejected))
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, types.StatusFailed, store.status(testWalletLower))
}

func TestSubmitClaim_DuplicateWhileInFlight(t *testing.T) {
	store := newMockClaimStore()
	store.records[testWalletLower] = &models.ClaimRecord{
		Address: testWalletLower,
		Status:  types.StatusPending,
	}
	gateway := &mockGateway{}
	svc := newTestService(store, gateway, clockwork.NewFakeClock())

	_, err := svc.SubmitClaim(context.Background(), &ClaimInput{
		Address: testWallet,
		Amount:  "1000",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInFlight))
	assert.Equal(t, 0, gateway.mintCount())
}

func TestSubmitClaim_IdempotentWhenConfirmed(t *testing.T) {
	store := newMockClaimStore()
	ref := testHash
	store.records[testWalletLower] = &models.ClaimRecord{
		Address:        testWalletLower,
		Status:         types.StatusConfirmed,
		TransactionRef: &ref,
	}
	gateway := &mockGateway{}
	svc := newTestService(store, gateway, clockwork.NewFakeClock())

	result, err := svc.SubmitClaim(context.Background(), &ClaimInput{
		Address: testWallet,
		Amount:  "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyClaimed, result.Outcome)
	require.NotNil(t, result.TransactionRef)
	assert.Equal(t, testHash, *result.TransactionRef)
	assert.Equal(t, 0, gateway.mintCount())
}

func TestSubmitClaim_FailedRequiresExplicitRetry(t *testing.T) {
	store := newMockClaimStore()
	store.records[testWalletLower] = &models.ClaimRecord{
		Address: testWalletLower,
		Status:  types.StatusFailed,
	}
	svc := newTestService(store, &mockGateway{}, clockwork.NewFakeClock())

	_, err := svc.SubmitClaim(context.Background(), &ClaimInput{
		Address: testWallet,
		Amount:  "1000",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRetryRequired))
}

func TestSubmitClaim_InvalidInputs(t *testing.T) {
	svc := newTestService(newMockClaimStore(), &mockGateway{}, clockwork.NewFakeClock())

	tests := []struct {
		name    string
		input   *ClaimInput
		errCode string
	}{
		{
			name:    "malformed address",
			input:   &ClaimInput{Address: "not-an-address", Amount: "100"},
			errCode: pkgerrors.CodeInvalidAddress,
		},
		{
			name:    "zero amount",
			input:   &ClaimInput{Address: testWallet, Amount: "0"},
			errCode: pkgerrors.CodeInvalidAmount,
		},
		{
			name:    "negative amount",
			input:   &ClaimInput{Address: testWallet, Amount: "-5"},
			errCode: pkgerrors.CodeInvalidAmount,
		},
		{
			name:    "non-numeric amount",
			input:   &ClaimInput{Address: testWallet, Amount: "lots"},
			errCode: pkgerrors.CodeInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitClaim(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tt.errCode))
		})
	}
}

func TestSubmitClaim_BalanceProbeShortCircuits(t *testing.T) {
	store := newMockClaimStore()
	gateway := &mockGateway{balance: big.NewInt(5000)}
	clock := clockwork.NewFakeClock()
	svc := NewClaimService(store, gateway, nil, nil, nil, clock, ClaimServiceConfig{
		SubmitWait:          time.Minute,
		ReceiptPollInterval: time.Second,
		ReceiptPollBudget:   30 * time.Second,
		SkipBalanceCheck:    false,
	}, testLogger())

	result, err := svc.SubmitClaim(context.Background(), &ClaimInput{
		Address: testWallet,
		Amount:  "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	require.NotNil(t, result.TransactionRef)
	assert.Equal(t, "sentinel:already-funded", *result.TransactionRef)
	assert.Equal(t, 0, gateway.mintCount())
}

func TestSubmitClaim_RecordsReferrer(t *testing.T) {
	store := newMockClaimStore()
	gateway := &mockGateway{mintHash: testHash, receiptStatus: types.ReceiptSuccess}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, gateway, clock)

	referrer := "0x28C6c06298d514Db089934071355E5743bf21d60"

	done := make(chan struct{})
	go func() {
		_, _ = svc.SubmitClaim(context.Background(), &ClaimInput{
			Address:         testWallet,
			Amount:          "1000",
			ReferrerAddress: referrer,
			ReferrerCode:    "FRIEND",
		})
		close(done)
	}()

	clock.BlockUntil(2)
	clock.Advance(time.Second)
	<-done

	record, err := store.Get(context.Background(), testWalletLower)
	require.NoError(t, err)
	require.NotNil(t, record.ReferrerAddress)
	assert.Equal(t, "0x28c6c06298d514db089934071355e5743bf21d60", *record.ReferrerAddress)
	require.NotNil(t, record.ReferrerCode)
	assert.Equal(t, "FRIEND", *record.ReferrerCode)
}

func TestSubmitClaim_IgnoresSelfReferral(t *testing.T) {
	store := newMockClaimStore()
	gateway := &mockGateway{mintHash: testHash, receiptStatus: types.ReceiptSuccess}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, gateway, clock)

	done := make(chan struct{})
	go func() {
		_, _ = svc.SubmitClaim(context.Background(), &ClaimInput{
			Address:         testWallet,
			Amount:          "1000",
			ReferrerAddress: testWallet,
		})
		close(done)
	}()

	clock.BlockUntil(2)
	clock.Advance(time.Second)
	<-done

	record, err := store.Get(context.Background(), testWalletLower)
	require.NoError(t, err)
	assert.Nil(t, record.ReferrerAddress)
}

func TestRetryClaim_ResubmitsFailedClaim(t *testing.T) {
	store := newMockClaimStore()
	store.records[testWalletLower] = &models.ClaimRecord{
		Address:    testWalletLower,
		Status:     types.StatusFailed,
		MintAmount: "1000",
	}
	gateway := &mockGateway{mintHash: testHash, receiptStatus: types.ReceiptSuccess}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, gateway, clock)

	resultCh := make(chan *ClaimResult, 1)
	go func() {
		result, _ := svc.RetryClaim(context.Background(), testWallet)
		resultCh <- result
	}()

	clock.BlockUntil(2)
	clock.Advance(time.Second)

	result := <-resultCh
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, 1, gateway.mintCount())
}

func TestRetryClaim_RejectsNonRetryableStates(t *testing.T) {
	store := newMockClaimStore()
	store.records[testWalletLower] = &models.ClaimRecord{
		Address: testWalletLower,
		Status:  types.StatusPending,
	}
	svc := newTestService(store, &mockGateway{}, clockwork.NewFakeClock())

	_, err := svc.RetryClaim(context.Background(), testWallet)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidState))
}

func TestRegisterIntent_CreatesUnclaimedRecord(t *testing.T) {
	store := newMockClaimStore()
	svc := newTestService(store, &mockGateway{}, clockwork.NewFakeClock())

	err := svc.RegisterIntent(context.Background(), &ClaimInput{
		Address: testWallet,
		Amount:  "2500",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnclaimed, store.status(testWalletLower))
}

func TestGetStatus_NotFound(t *testing.T) {
	svc := newTestService(newMockClaimStore(), &mockGateway{}, clockwork.NewFakeClock())

	_, err := svc.GetStatus(context.Background(), testWallet)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeClaimNotFound))
}

func TestListRetryable(t *testing.T) {
	store := newMockClaimStore()
	store.records[testWalletLower] = &models.ClaimRecord{
		Address: testWalletLower,
		Status:  types.StatusFailed,
	}
	store.records["0x0000000000000000000000000000000000000002"] = &models.ClaimRecord{
		Address: "0x0000000000000000000000000000000000000002",
		Status:  types.StatusConfirmed,
	}

	svc := newTestService(store, &mockGateway{}, clockwork.NewFakeClock())

	records, err := svc.ListRetryable(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, testWalletLower, records[0].Address)
}
