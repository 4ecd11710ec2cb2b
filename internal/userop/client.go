package userop

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/fees"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/providers/pimlico"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
)

// BundlerRPC is the raw bundler JSON-RPC surface.
type BundlerRPC interface {
	EstimateUserOperationGas(ctx context.Context, bundlerURL string, op pimlico.UserOperation, entryPoint common.Address) (pimlico.GasEstimate, error)
	SendUserOperation(ctx context.Context, bundlerURL string, op pimlico.UserOperation, entryPoint common.Address) (string, error)
	UserOperationReceipt(ctx context.Context, bundlerURL, userOpHash string) (*pimlico.Receipt, error)
}

type NonceReader interface {
	Nonce(ctx context.Context, account smartaccount.Account) (*big.Int, error)
}

// HashSigner signs 32 byte digests with the account owner key.
type HashSigner interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

type ClientConfig struct {
	BundlerURL   string
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Client is the Bundler backed by a bundler endpoint, a node and the owner key.
type Client struct {
	rpc     BundlerRPC
	nonces  NonceReader
	chain   fees.ChainReader
	signer  HashSigner
	url     string
	poll    time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(rpc BundlerRPC, nonces NonceReader, chain fees.ChainReader, signer HashSigner, cfg ClientConfig) *Client {
	c := &Client{
		rpc:     rpc,
		nonces:  nonces,
		chain:   chain,
		signer:  signer,
		url:     cfg.BundlerURL,
		poll:    cfg.PollInterval,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	if c.poll <= 0 {
		c.poll = 2 * time.Second
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c
}

func (c *Client) EstimateGas(ctx context.Context, params OperationParams, hints *FeeHints) (GasEstimate, error) {
	var maxFee, tip *big.Int
	if hints != nil {
		maxFee, tip = hints.MaxFeePerGas, hints.MaxPriorityFeePerGas
	}
	op, err := c.prepare(ctx, params, maxFee, tip)
	if err != nil {
		return GasEstimate{}, err
	}
	est, err := c.rpc.EstimateUserOperationGas(ctx, c.url, op, params.Account.Deployment.EntryPoint)
	if err != nil {
		return GasEstimate{}, submissionError("estimate user operation gas", err)
	}
	return GasEstimate{
		PreVerificationGas:   est.PreVerificationGas.ToInt(),
		VerificationGasLimit: est.VerificationGasLimit.ToInt(),
		CallGasLimit:         est.CallGasLimit.ToInt(),
	}, nil
}

// Submit estimates the remaining gas limits, applies overrides, signs the
// SafeOp and hands the operation to the bundler.
func (c *Client) Submit(ctx context.Context, params SubmitParams) (string, error) {
	if c.signer == nil {
		return "", clierr.New(clierr.CodeSigner, "no signer configured")
	}
	if c.signer.Address() != params.Account.Owner {
		return "", clierr.New(clierr.CodeSigner, "signer does not own the smart account")
	}
	var maxFee, tip *big.Int
	if o := params.Overrides; o != nil {
		maxFee, tip = o.MaxFeePerGas, o.MaxPriorityFeePerGas
	}
	op, err := c.prepare(ctx, params.OperationParams, maxFee, tip)
	if err != nil {
		return "", err
	}
	entryPoint := params.Account.Deployment.EntryPoint
	est, err := c.rpc.EstimateUserOperationGas(ctx, c.url, op, entryPoint)
	if err != nil {
		return "", submissionError("estimate user operation gas", err)
	}
	op.CallGasLimit = est.CallGasLimit
	op.VerificationGasLimit = est.VerificationGasLimit
	op.PreVerificationGas = est.PreVerificationGas
	if o := params.Overrides; o != nil {
		if o.PreVerificationGas != nil {
			op.PreVerificationGas = (*hexutil.Big)(o.PreVerificationGas)
		}
		if o.VerificationGasLimit != nil {
			op.VerificationGasLimit = (*hexutil.Big)(o.VerificationGasLimit)
		}
	}

	safeOp := smartaccount.SafeOp{
		Safe:                 op.Sender,
		Nonce:                op.Nonce.ToInt(),
		InitCode:             params.Account.InitCode(),
		CallData:             op.CallData,
		VerificationGasLimit: op.VerificationGasLimit.ToInt(),
		CallGasLimit:         op.CallGasLimit.ToInt(),
		PreVerificationGas:   op.PreVerificationGas.ToInt(),
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas.ToInt(),
		MaxFeePerGas:         op.MaxFeePerGas.ToInt(),
		EntryPoint:           entryPoint,
	}
	hash, err := safeOp.Hash(params.Account.ChainID, params.Account.Deployment.Safe4337Module)
	if err != nil {
		return "", err
	}
	sig, err := c.signer.SignHash(hash)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign user operation", err)
	}
	packed, err := smartaccount.PackSignature(sig)
	if err != nil {
		return "", err
	}
	op.Signature = packed

	userOpHash, err := c.rpc.SendUserOperation(ctx, c.url, op, entryPoint)
	if err != nil {
		return "", submissionError("send user operation", err)
	}
	return userOpHash, nil
}

// AwaitReceipt polls the bundler until the operation is included or the
// receipt timeout elapses. Transient polling failures are retried.
func (c *Client) AwaitReceipt(ctx context.Context, userOpHash string) (model.OperationReceipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.rpc.UserOperationReceipt(waitCtx, c.url, userOpHash)
		if err == nil && receipt != nil {
			out := toModelReceipt(userOpHash, receipt)
			if !out.Success {
				reason := out.Reason
				if reason == "" {
					reason = "execution reverted"
				}
				return out, clierr.New(clierr.CodeSubmission, "user operation reverted on-chain: "+reason)
			}
			return out, nil
		}
		if err != nil {
			c.logger.DebugContext(ctx, "user operation receipt poll failed", "user_op_hash", userOpHash, "error", err)
		}
		select {
		case <-waitCtx.Done():
			return model.OperationReceipt{UserOpHash: userOpHash}, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for user operation receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) prepare(ctx context.Context, params OperationParams, maxFee, tip *big.Int) (pimlico.UserOperation, error) {
	account := params.Account
	if maxFee == nil || tip == nil {
		defMax, defTip, err := fees.NetworkDefaults(ctx, c.chain, fees.Overrides{})
		if err != nil {
			return pimlico.UserOperation{}, err
		}
		if maxFee == nil {
			maxFee = defMax
		}
		if tip == nil {
			tip = defTip
		}
	}
	nonce, err := c.nonces.Nonce(ctx, account)
	if err != nil {
		return pimlico.UserOperation{}, err
	}
	callData, err := smartaccount.EncodeCallData(account, params.Calls)
	if err != nil {
		return pimlico.UserOperation{}, err
	}
	op := pimlico.UserOperation{
		Sender:               account.Address,
		Nonce:                (*hexutil.Big)(nonce),
		CallData:             callData,
		CallGasLimit:         (*hexutil.Big)(big.NewInt(0)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(0)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(0)),
		MaxFeePerGas:         (*hexutil.Big)(maxFee),
		MaxPriorityFeePerGas: (*hexutil.Big)(tip),
		Signature:            hexutil.MustDecode(smartaccount.DummySignature),
	}
	if !account.Deployed && len(account.FactoryData) > 0 {
		factory := account.Factory
		op.Factory = &factory
		op.FactoryData = account.FactoryData
	}
	return op, nil
}

func toModelReceipt(userOpHash string, r *pimlico.Receipt) model.OperationReceipt {
	out := model.OperationReceipt{
		UserOpHash:      r.UserOpHash,
		Sender:          r.Sender,
		Success:         r.Success,
		Reason:          r.Reason,
		TransactionHash: r.Receipt.TransactionHash,
		Nonce:           bigString(r.Nonce),
		ActualGasCost:   bigString(r.ActualGasCost),
		ActualGasUsed:   bigString(r.ActualGasUsed),
	}
	if out.UserOpHash == "" {
		out.UserOpHash = userOpHash
	}
	if r.Receipt.BlockNumber != nil {
		out.BlockNumber = r.Receipt.BlockNumber.ToInt().Uint64()
	}
	return out
}

func bigString(v *hexutil.Big) string {
	if v == nil {
		return "0"
	}
	return v.ToInt().String()
}

func submissionError(msg string, err error) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	return clierr.Wrap(clierr.CodeSubmission, msg, err)
}
