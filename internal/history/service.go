package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/telemetry"
)

const (
	FeedNative = "txlistinternal"
	FeedToken  = "tokentx"
)

// FeedClient fetches raw explorer feeds for an address.
type FeedClient interface {
	NativeTransfers(ctx context.Context, address string, chainID int64) ([]RawTransferRecord, error)
	TokenTransfers(ctx context.Context, address string, chainID int64) ([]RawTransferRecord, error)
}

type Service struct {
	feeds   FeedClient
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFeedTimeout bounds each feed fetch independently.
func WithFeedTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(feeds FeedClient, opts ...Option) *Service {
	s := &Service{feeds: feeds, timeout: 30 * time.Second, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Result struct {
	Actions  []model.NormalizedAction
	Warnings []string
	Feeds    []model.ProviderStatus
}

// List fetches both feeds concurrently and normalizes them. A failed or timed
// out feed contributes nothing and is reported as a warning, never an error.
func (s *Service) List(ctx context.Context, address string, chain id.Chain) Result {
	ctx, span := telemetry.StartSpan(ctx, "history.list")
	defer span.End()
	span.SetAttributes(attribute.Int64("chain.id", chain.EVMChainID))

	var (
		native, token []RawTransferRecord
		mu            sync.Mutex
		warnings      []string
		statuses      = make([]model.ProviderStatus, 2)
	)

	fetch := func(slot int, feed string, fn func(context.Context, string, int64) ([]RawTransferRecord, error), dst *[]RawTransferRecord) func() error {
		return func() error {
			fctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			start := time.Now()
			records, err := fn(fctx, address, chain.EVMChainID)
			status := model.ProviderStatus{Name: feed, Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				status.Status = "error"
				s.metrics.FeedFailure(feed)
				s.logger.WarnContext(ctx, "history feed unavailable, treating as empty",
					"feed", feed, "chain_id", chain.EVMChainID, "error", err)
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("%s feed unavailable: %v", feed, err))
				mu.Unlock()
				records = nil
			}
			statuses[slot] = status
			*dst = records
			return nil
		}
	}

	var g errgroup.Group
	g.Go(fetch(0, FeedNative, s.feeds.NativeTransfers, &native))
	g.Go(fetch(1, FeedToken, s.feeds.TokenTransfers, &token))
	_ = g.Wait()

	symbol := chain.NativeSymbol
	if symbol == "" {
		symbol = DefaultNativeSymbol
	}
	for i := range native {
		if native[i].Symbol == "" {
			native[i].Symbol = symbol
		}
	}

	actions := Normalize(native, token)
	s.metrics.HistoryActions(len(actions))
	if len(warnings) == 2 {
		span.SetStatus(codes.Error, "all history feeds unavailable")
	}
	span.SetAttributes(attribute.Int("history.actions", len(actions)))
	sort.Strings(warnings)
	return Result{Actions: actions, Warnings: warnings, Feeds: statuses}
}
