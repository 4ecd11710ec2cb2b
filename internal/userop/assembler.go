package userop

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
	"github.com/ggonzalez94/semi-cli/internal/telemetry"
)

// Bundler estimates, submits and tracks user operations.
type Bundler interface {
	EstimateGas(ctx context.Context, params OperationParams, hints *FeeHints) (GasEstimate, error)
	Submit(ctx context.Context, params SubmitParams) (string, error)
	AwaitReceipt(ctx context.Context, userOpHash string) (model.OperationReceipt, error)
}

type DeploymentProbe interface {
	IsDeployed(ctx context.Context, address common.Address) (bool, error)
}

type FeeResolver interface {
	Resolve(ctx context.Context, chainID int64) (model.FeeQuote, error)
}

type Assembler struct {
	bundler    Bundler
	probe      DeploymentProbe
	fees       FeeResolver
	feeBidding func(chainID int64) bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Assembler)

func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithFeeBidding replaces the chain allow-list deciding when explicit fees are sent.
func WithFeeBidding(fn func(chainID int64) bool) Option {
	return func(a *Assembler) {
		if fn != nil {
			a.feeBidding = fn
		}
	}
}

func NewAssembler(bundler Bundler, probe DeploymentProbe, fees FeeResolver, opts ...Option) *Assembler {
	a := &Assembler{
		bundler:    bundler,
		probe:      probe,
		fees:       fees,
		feeBidding: registry.RequiresFeeBidding,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildAndSubmit assembles, submits and awaits one user operation.
func (a *Assembler) BuildAndSubmit(ctx context.Context, account smartaccount.Account, calls []smartaccount.Call) (model.OperationReceipt, error) {
	sub, err := a.Execute(ctx, account, calls)
	return sub.Receipt, err
}

// Execute is BuildAndSubmit that also reports the fee quote it used.
func (a *Assembler) Execute(ctx context.Context, account smartaccount.Account, calls []smartaccount.Call) (Submission, error) {
	ctx, span := telemetry.StartSpan(ctx, "userop.build_and_submit")
	defer span.End()
	span.SetAttributes(attribute.Int64("chain.id", account.ChainID), attribute.Int("userop.calls", len(calls)))

	var out Submission
	fail := func(stage string, err error) (Submission, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		a.metrics.UserOp("failed")
		a.logger.ErrorContext(ctx, "user operation failed", "stage", stage, "chain_id", account.ChainID, "sender", account.Address.Hex(), "error", err)
		return out, err
	}

	deployed, err := a.probe.IsDeployed(ctx, account.Address)
	if err != nil {
		a.logger.WarnContext(ctx, "deployment probe failed, assuming undeployed account", "sender", account.Address.Hex(), "error", err)
		deployed = false
	}
	account.Deployed = deployed
	base := OperationParams{Account: account, Calls: calls}

	var hints *FeeHints
	var quote *model.FeeQuote
	bidding := a.feeBidding(account.ChainID)
	if bidding {
		q, err := a.fees.Resolve(ctx, account.ChainID)
		if err != nil {
			return fail("fees", err)
		}
		quote = &q
		out.FeeQuote = quote
		hints = &FeeHints{MaxFeePerGas: q.MaxFeePerGas, MaxPriorityFeePerGas: q.MaxPriorityFeePerGas}
	}

	estimate, err := a.bundler.EstimateGas(ctx, base, hints)
	if err != nil {
		return fail("estimate", err)
	}

	var overrides *FeeOverrides
	if bidding {
		overrides = &FeeOverrides{
			MaxFeePerGas:         quote.MaxFeePerGas,
			MaxPriorityFeePerGas: quote.MaxPriorityFeePerGas,
			PreVerificationGas:   estimate.PreVerificationGas,
			VerificationGasLimit: estimate.VerificationGasLimit,
		}
	}
	params := Merge(base, overrides)

	hash, err := a.bundler.Submit(ctx, params)
	if err != nil {
		return fail("submit", err)
	}
	span.SetAttributes(attribute.String("userop.hash", hash))
	a.logger.InfoContext(ctx, "user operation submitted", "user_op_hash", hash, "chain_id", account.ChainID, "deployed", deployed)

	receipt, err := a.bundler.AwaitReceipt(ctx, hash)
	out.Receipt = receipt
	if err != nil {
		return fail("receipt", err)
	}
	a.metrics.UserOp("included")
	return out, nil
}
