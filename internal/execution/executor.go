package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/execution/signer"
	"github.com/ggonzalez94/semi-cli/internal/fees"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/registry"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
)

var erc20ABI = mustABI(registry.ERC20ABI)

// ChainClient is the node surface used for EOA transfers; ethclient.Client satisfies it.
type ChainClient interface {
	fees.ChainReader
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type ExecuteOptions struct {
	Simulate      bool
	PollInterval  time.Duration
	Timeout       time.Duration
	GasMultiplier float64
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		Simulate:      true,
		PollInterval:  2 * time.Second,
		Timeout:       2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

type TransferReceipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Executor sends transfers from the signer's own address.
type Executor struct {
	client  ChainClient
	signer  signer.Signer
	opts    ExecuteOptions
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewExecutor(client ChainClient, txSigner signer.Signer, opts ExecuteOptions, logger *slog.Logger, m *metrics.Metrics) *Executor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{client: client, signer: txSigner, opts: opts, logger: logger, metrics: m}
}

// TransferCall is the call that moves req's asset: a plain value transfer or
// ERC-20 transfer(to, amount) on the token contract.
func TransferCall(req TransferRequest) (smartaccount.Call, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return smartaccount.Call{}, clierr.New(clierr.CodeUsage, "transfer amount must be positive")
	}
	if req.IsNative() {
		return smartaccount.Call{To: req.To, Value: new(big.Int).Set(req.Amount), Data: []byte{}}, nil
	}
	data, err := erc20ABI.Pack("transfer", req.To, req.Amount)
	if err != nil {
		return smartaccount.Call{}, clierr.Wrap(clierr.CodeInternal, "pack ERC20 transfer", err)
	}
	return smartaccount.Call{To: *req.Token, Value: big.NewInt(0), Data: data}, nil
}

// Transfer signs, broadcasts and waits for req. onSubmitted, when set, runs
// once the transaction hash is known.
func (e *Executor) Transfer(ctx context.Context, req TransferRequest, onSubmitted func(txHash string)) (TransferReceipt, error) {
	receipt, err := e.transfer(ctx, req, onSubmitted)
	if err != nil {
		e.metrics.EOATransfer("failed")
		e.logger.ErrorContext(ctx, "eoa transfer failed", "chain_id", req.ChainID, "to", req.To.Hex(), "error", err)
		return receipt, err
	}
	e.metrics.EOATransfer("confirmed")
	return receipt, nil
}

func (e *Executor) transfer(ctx context.Context, req TransferRequest, onSubmitted func(string)) (TransferReceipt, error) {
	if e.signer == nil {
		return TransferReceipt{}, clierr.New(clierr.CodeSigner, "no signer configured")
	}
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return TransferReceipt{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if req.ChainID != 0 && chainID.Int64() != req.ChainID {
		return TransferReceipt{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc chain mismatch: expected %d, got %d", req.ChainID, chainID.Int64()))
	}
	call, err := TransferCall(req)
	if err != nil {
		return TransferReceipt{}, err
	}
	from := e.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &call.To, Value: call.Value, Data: call.Data}

	if e.opts.Simulate {
		if _, err := e.client.CallContract(ctx, msg, nil); err != nil {
			return TransferReceipt{}, clierr.Wrap(clierr.CodeSubmission, "simulate transfer (eth_call)", err)
		}
	}
	gasLimit, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return TransferReceipt{}, clierr.Wrap(clierr.CodeSubmission, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)

	feeCap, tipCap, err := fees.NetworkDefaults(ctx, e.client, req.Fees)
	if err != nil {
		return TransferReceipt{}, err
	}
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return TransferReceipt{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &call.To,
		Value:     call.Value,
		Data:      call.Data,
	})
	signed, err := e.signer.SignTx(chainID, tx)
	if err != nil {
		return TransferReceipt{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return TransferReceipt{}, clierr.Wrap(clierr.CodeSubmission, "broadcast transaction", err)
	}
	out := TransferReceipt{TxHash: signed.Hash().Hex()}
	e.logger.InfoContext(ctx, "eoa transfer broadcast", "tx_hash", out.TxHash, "chain_id", chainID.Int64())
	if onSubmitted != nil {
		onSubmitted(out.TxHash)
	}
	return e.waitReceipt(ctx, signed.Hash(), out)
}

func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash, out TransferReceipt) (TransferReceipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			out.GasUsed = receipt.GasUsed
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status == types.ReceiptStatusSuccessful {
				return out, nil
			}
			return out, clierr.New(clierr.CodeSubmission, "transaction reverted on-chain")
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.DebugContext(ctx, "receipt poll failed", "tx_hash", out.TxHash, "error", err)
		}
		select {
		case <-waitCtx.Done():
			return out, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// TokenDecimals reads decimals() from an ERC-20 contract.
func TokenDecimals(ctx context.Context, client ChainClient, token common.Address) (int, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "pack decimals call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "read token decimals", err)
	}
	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(values) == 0 {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "decode token decimals", err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, clierr.New(clierr.CodeUnavailable, "invalid token decimals response")
	}
	return int(decimals), nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
