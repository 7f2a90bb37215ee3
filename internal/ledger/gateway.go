package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/logging"
	"github.com/claim-pipeline/internal/types"
)

// tokenABI covers the three contract entry points the pipeline uses.
const tokenABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"mint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"batchMint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[]}
]`

// Gateway is the chain interface consumed by the pipeline. Every call is
// a single attempt: retries belong to the orchestrator, sweeper, and
// scheduler, which know which errors are safe to retry.
type Gateway interface {
	// BalanceOf returns the token balance of an address. A failure means
	// "unknown", never proof of non-ownership.
	BalanceOf(ctx context.Context, address string) (*big.Int, error)

	// Mint submits a single mint and blocks until the submission is
	// accepted by the network (not until confirmed).
	Mint(ctx context.Context, address string, amount *big.Int) (string, error)

	// BatchMint submits one transaction minting to many recipients.
	// All-or-nothing at the chain level: a revert mints to nobody.
	BatchMint(ctx context.Context, addresses []string, amounts []*big.Int) (string, error)

	// GetReceipt polls the confirmation status of a submitted
	// transaction. Non-blocking; the caller owns timeout policy.
	GetReceipt(ctx context.Context, txHash string) (types.ReceiptStatus, error)
}

// EthereumGatewayConfig configures an EthereumGateway
type EthereumGatewayConfig struct {
	Provider        *RPCProvider
	ChainID         int64
	TokenContract   string
	OperatorKey     string // hex-encoded private key
	RPCRatePerSec   int    // 0 disables pacing
	GasLimitSingle  uint64
	GasLimitPerMint uint64
}

// EthereumGateway implements Gateway against an EVM JSON-RPC endpoint
type EthereumGateway struct {
	provider *RPCProvider
	chainID  *big.Int
	contract common.Address
	key      *ecdsa.PrivateKey
	operator common.Address
	abi      abi.ABI
	limiter  *rate.Limiter
	logger   *logging.Logger

	gasLimitSingle  uint64
	gasLimitPerMint uint64

	mu     sync.Mutex // serializes nonce assignment and client swaps
	client *ethclient.Client
}

// NewEthereumGateway creates a gateway bound to the token contract
func NewEthereumGateway(cfg *EthereumGatewayConfig) (*EthereumGateway, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if !common.IsHexAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("invalid token contract address: %s", cfg.TokenContract)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	client, err := ethclient.Dial(cfg.Provider.CurrentURL())
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RPCRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPCRatePerSec), cfg.RPCRatePerSec)
	}

	gasLimitSingle := cfg.GasLimitSingle
	if gasLimitSingle == 0 {
		gasLimitSingle = 120000
	}
	gasLimitPerMint := cfg.GasLimitPerMint
	if gasLimitPerMint == 0 {
		gasLimitPerMint = 60000
	}

	return &EthereumGateway{
		provider:        cfg.Provider,
		chainID:         big.NewInt(cfg.ChainID),
		contract:        common.HexToAddress(cfg.TokenContract),
		key:             key,
		operator:        crypto.PubkeyToAddress(key.PublicKey),
		abi:             parsedABI,
		limiter:         limiter,
		logger:          logging.GetGlobalLogger().WithField("component", "ledger"),
		gasLimitSingle:  gasLimitSingle,
		gasLimitPerMint: gasLimitPerMint,
		client:          client,
	}, nil
}

// BalanceOf returns the token balance of an address
func (g *EthereumGateway) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if err := g.wait(ctx); err != nil {
		return nil, pkgerrors.NewChainUnavailableError("balanceOf", err)
	}

	data, err := g.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to pack balanceOf call", err)
	}

	msg := ethereum.CallMsg{To: &g.contract, Data: data}
	raw, err := g.currentClient().CallContract(ctx, msg, nil)
	if err != nil {
		if isConnectivityError(err) {
			g.tryFailover()
		}
		return nil, pkgerrors.NewChainUnavailableError("balanceOf", err)
	}

	out, err := g.abi.Unpack("balanceOf", raw)
	if err != nil || len(out) != 1 {
		return nil, pkgerrors.NewInternalError("failed to decode balanceOf result", err)
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, pkgerrors.NewInternalError("unexpected balanceOf result type", nil)
	}

	return balance, nil
}

// Mint submits a single mint transaction
func (g *EthereumGateway) Mint(ctx context.Context, address string, amount *big.Int) (string, error) {
	data, err := g.abi.Pack("mint", common.HexToAddress(address), amount)
	if err != nil {
		return "", pkgerrors.NewInternalError("failed to pack mint call", err)
	}

	txHash, err := g.submit(ctx, "mint", data, g.gasLimitSingle)
	if err != nil {
		return "", err
	}

	g.logger.WithFields(map[string]interface{}{
		"address": address,
		"amount":  amount.String(),
		"txHash":  txHash,
	}).Info("Mint submitted")

	return txHash, nil
}

// BatchMint submits one transaction minting to many recipients
func (g *EthereumGateway) BatchMint(ctx context.Context, addresses []string, amounts []*big.Int) (string, error) {
	if len(addresses) == 0 {
		return "", pkgerrors.NewInternalError("empty batch", nil)
	}
	if len(addresses) != len(amounts) {
		return "", pkgerrors.NewInternalError(
			fmt.Sprintf("batch length mismatch: %d addresses, %d amounts", len(addresses), len(amounts)), nil)
	}

	recipients := make([]common.Address, len(addresses))
	for i, a := range addresses {
		recipients[i] = common.HexToAddress(a)
	}

	data, err := g.abi.Pack("batchMint", recipients, amounts)
	if err != nil {
		return "", pkgerrors.NewInternalError("failed to pack batchMint call", err)
	}

	gasLimit := g.gasLimitSingle + g.gasLimitPerMint*uint64(len(addresses))
	txHash, err := g.submit(ctx, "batchMint", data, gasLimit)
	if err != nil {
		return "", err
	}

	g.logger.WithFields(map[string]interface{}{
		"recipients": len(addresses),
		"txHash":     txHash,
	}).Info("Batch mint submitted")

	return txHash, nil
}

// GetReceipt polls the confirmation status of a transaction
func (g *EthereumGateway) GetReceipt(ctx context.Context, txHash string) (types.ReceiptStatus, error) {
	if !types.ValidTxHash(txHash) {
		return "", pkgerrors.NewInternalError(fmt.Sprintf("malformed transaction hash: %s", txHash), nil)
	}

	if err := g.wait(ctx); err != nil {
		return "", pkgerrors.NewChainUnavailableError("getReceipt", err)
	}

	receipt, err := g.currentClient().TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.ReceiptPending, nil
		}
		if isConnectivityError(err) {
			g.tryFailover()
		}
		return "", pkgerrors.NewChainUnavailableError("getReceipt", err)
	}

	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return types.ReceiptSuccess, nil
	}
	return types.ReceiptReverted, nil
}

// Operator returns the minting operator address
func (g *EthereumGateway) Operator() string {
	return strings.ToLower(g.operator.Hex())
}

// Close closes the RPC client connection
func (g *EthereumGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		g.client.Close()
	}
}

// submit signs and broadcasts a contract call. The nonce mutex is held
// across broadcast so concurrent mints from the single operator key
// cannot race the same nonce. A broadcast is never re-attempted here:
// once SendTransaction has been called the transaction may already be in
// the mempool, and a rebroadcast could double-mint.
func (g *EthereumGateway) submit(ctx context.Context, operation string, data []byte, gasLimit uint64) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", pkgerrors.NewChainUnavailableError(operation, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	client := g.client

	nonce, err := client.PendingNonceAt(ctx, g.operator)
	if err != nil {
		return "", classifySubmitError(operation, err)
	}

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", classifySubmitError(operation, err)
	}

	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", classifySubmitError(operation, err)
	}

	// feeCap = 2*baseFee + tip, the conventional headroom for one repricing
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &g.contract,
		Data:      data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return "", pkgerrors.NewInternalError("failed to sign transaction", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", classifySubmitError(operation, err)
	}

	return strings.ToLower(signed.Hash().Hex()), nil
}

func (g *EthereumGateway) currentClient() *ethclient.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// tryFailover switches to the alternate endpoint and redials. Used only
// after read-path failures; write paths surface the error to the caller.
func (g *EthereumGateway) tryFailover() {
	if err := g.provider.Failover(); err != nil {
		return
	}

	client, err := ethclient.Dial(g.provider.CurrentURL())
	if err != nil {
		g.logger.WithError(err).Warn("Failover dial failed")
		return
	}

	g.mu.Lock()
	old := g.client
	g.client = client
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}

	g.logger.WithField("endpoint", g.provider.CurrentURL()).Warn("Failed over to alternate RPC endpoint")
}

func (g *EthereumGateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// classifySubmitError maps a submission failure to the pipeline taxonomy:
// contract/nonce/gas rejections are non-retryable; connectivity problems
// are transient.
func classifySubmitError(operation string, err error) error {
	if isRejectionError(err) {
		return pkgerrors.NewSubmissionRejectedError(operation, err)
	}
	return pkgerrors.NewChainUnavailableError(operation, err)
}

func isRejectionError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"execution reverted",
		"revert",
		"nonce too low",
		"nonce too high",
		"replacement transaction underpriced",
		"insufficient funds",
		"intrinsic gas too low",
		"exceeds block gas limit",
		"invalid sender",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}

func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"too many requests",
		"429",
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"eof",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}
