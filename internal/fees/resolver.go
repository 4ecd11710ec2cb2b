package fees

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/providers/pimlico"
	"github.com/ggonzalez94/semi-cli/internal/registry"
	"github.com/ggonzalez94/semi-cli/internal/telemetry"
)

var (
	FallbackMaxFeePerGas         = big.NewInt(30_000_000_000)
	FallbackMaxPriorityFeePerGas = big.NewInt(1_500_000_000)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const defaultOracleTimeout = 10 * time.Second

// Oracle quotes the bundler's standard gas price tier.
type Oracle interface {
	UserOperationGasPrice(ctx context.Context, bundlerURL string) (pimlico.GasPrice, error)
}

// BundlerLookup maps a chain to its bundler endpoint.
type BundlerLookup func(chainID int64) (string, bool)

type Resolver struct {
	oracle   Oracle
	bundlers BundlerLookup
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewResolver(oracle Oracle, bundlers BundlerLookup, opts ...Option) *Resolver {
	r := &Resolver{oracle: oracle, bundlers: bundlers, timeout: defaultOracleTimeout, logger: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve quotes maxFeePerGas and maxPriorityFeePerGas for chainID. Oracle
// failures never surface: they yield the fixed fallback quote. The only error
// is an unsupported chain, reported before any network call.
func (r *Resolver) Resolve(ctx context.Context, chainID int64) (model.FeeQuote, error) {
	if _, err := registry.Deployment(chainID); err != nil {
		return model.FeeQuote{}, err
	}
	bundlerURL, ok := "", false
	if r.bundlers != nil {
		bundlerURL, ok = r.bundlers(chainID)
	}
	if !ok || strings.TrimSpace(bundlerURL) == "" {
		return model.FeeQuote{}, clierr.Unsupported("unsupported chain: no bundler configured for chain id %d", chainID)
	}

	ctx, span := telemetry.StartSpan(ctx, "fees.resolve")
	defer span.End()
	span.SetAttributes(attribute.Int64("chain.id", chainID))

	quote, err := r.query(ctx, bundlerURL)
	if err != nil {
		r.logger.WarnContext(ctx, "gas price oracle failed, using fallback fees", "chain_id", chainID, "error", err)
		quote = Fallback()
	}
	span.SetAttributes(attribute.String("fees.source", string(quote.Source)))
	r.metrics.FeeQuote(string(quote.Source))
	return quote, nil
}

func (r *Resolver) query(ctx context.Context, bundlerURL string) (model.FeeQuote, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	price, err := r.oracle.UserOperationGasPrice(qctx, bundlerURL)
	if err != nil {
		return model.FeeQuote{}, err
	}
	maxFee, err := ParseQuantity(price.MaxFeePerGas)
	if err != nil {
		return model.FeeQuote{}, fmt.Errorf("maxFeePerGas: %w", err)
	}
	tip, err := ParseQuantity(price.MaxPriorityFeePerGas)
	if err != nil {
		return model.FeeQuote{}, fmt.Errorf("maxPriorityFeePerGas: %w", err)
	}
	return model.FeeQuote{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip, Source: model.FeeSourceOracle}, nil
}

// Describe renders quote for display on chainID.
func Describe(chainID int64, quote model.FeeQuote) model.FeeResult {
	return model.FeeResult{
		ChainID:              fmt.Sprintf("eip155:%d", chainID),
		RequiresFeeBidding:   registry.RequiresFeeBidding(chainID),
		MaxFeePerGas:         quote.MaxFeePerGas.String(),
		MaxPriorityFeePerGas: quote.MaxPriorityFeePerGas.String(),
		MaxFeeGwei:           FormatGwei(quote.MaxFeePerGas),
		MaxPriorityFeeGwei:   FormatGwei(quote.MaxPriorityFeePerGas),
		Source:               quote.Source,
	}
}

// Fallback returns fresh copies of the fixed fallback fees.
func Fallback() model.FeeQuote {
	return model.FeeQuote{
		MaxFeePerGas:         new(big.Int).Set(FallbackMaxFeePerGas),
		MaxPriorityFeePerGas: new(big.Int).Set(FallbackMaxPriorityFeePerGas),
		Source:               model.FeeSourceFallback,
	}
}

// ParseQuantity accepts 0x-prefixed hex or decimal unsigned 256-bit integers.
func ParseQuantity(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	if digits == "" || strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
		return nil, fmt.Errorf("invalid quantity %q", raw)
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", raw)
	}
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("quantity %q exceeds 256 bits", raw)
	}
	return v, nil
}
