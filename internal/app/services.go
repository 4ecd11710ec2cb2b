package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ggonzalez94/semi-cli/internal/balance"
	"github.com/ggonzalez94/semi-cli/internal/config"
	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/execution"
	"github.com/ggonzalez94/semi-cli/internal/fees"
	"github.com/ggonzalez94/semi-cli/internal/history"
	"github.com/ggonzalez94/semi-cli/internal/httpx"
	"github.com/ggonzalez94/semi-cli/internal/ipfs"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/providers"
	"github.com/ggonzalez94/semi-cli/internal/providers/etherscan"
	"github.com/ggonzalez94/semi-cli/internal/providers/pimlico"
	"github.com/ggonzalez94/semi-cli/internal/providers/thirdweb"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

// services holds the upstream clients for one CLI invocation.
type services struct {
	settings config.Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics

	explorer *etherscan.Client
	bundler  *pimlico.Client
	nfts     *thirdweb.Client
	gateways *ipfs.Resolver
	history  *history.Service
	fees     *fees.Resolver
	balances *balance.Service
	rpcs     *rpcPool
}

func newServices(settings config.Settings, logger *slog.Logger, m *metrics.Metrics) *services {
	resolver := httpx.NewResolver(settings.URLRewrites())
	client := httpx.New(settings.Timeout, settings.Retries, httpx.WithResolver(resolver))
	// Core pipelines never retry: a failed feed degrades, a failed oracle falls back.
	noRetry := client.WithRetries(0)

	explorerURL := settings.ExplorerBaseURL
	if strings.TrimSpace(settings.ProxyBaseURL) != "" && explorerURL == registry.EtherscanBaseURL {
		explorerURL = registry.ProxiedEtherscanURL(settings.ProxyBaseURL)
	}

	s := &services{settings: settings, logger: logger, metrics: m}
	s.explorer = etherscan.New(noRetry, explorerURL, settings.ExplorerAPIKey, settings.ExplorerRateLimit)
	s.bundler = pimlico.New(noRetry)
	s.gateways = ipfs.NewResolver(settings.IPFSGateways)
	s.nfts = thirdweb.New(client, settings.ThirdwebBaseURL, settings.ThirdwebClientID, s.gateways)
	s.history = history.NewService(s.explorer,
		history.WithLogger(logger),
		history.WithMetrics(m),
		history.WithFeedTimeout(settings.HistoryTimeout),
	)
	s.fees = fees.NewResolver(s.bundler, settings.BundlerURL,
		fees.WithLogger(logger),
		fees.WithMetrics(m),
	)
	s.rpcs = newRPCPool(settings.RPCURL)
	s.balances = balance.NewService(func(ctx context.Context, chainID int64) (balance.BatchCaller, error) {
		return s.rpcs.client(ctx, chainID, "")
	}, balance.WithLogger(logger))
	return s
}

func (s *services) providerInfos() []model.ProviderInfo {
	all := []providers.Provider{s.explorer, s.bundler, s.nfts}
	infos := make([]model.ProviderInfo, 0, len(all))
	for _, p := range all {
		infos = append(infos, p.Info())
	}
	return infos
}

// ethClient dials chainID, or override when set.
func (s *services) ethClient(ctx context.Context, chainID int64, override string) (*ethclient.Client, error) {
	c, err := s.rpcs.client(ctx, chainID, override)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}

func (s *services) close() {
	s.rpcs.close()
}

// rpcPool shares one JSON-RPC connection per endpoint.
type rpcPool struct {
	mu      sync.Mutex
	resolve func(chainID int64) (string, error)
	clients map[string]*rpc.Client
}

func newRPCPool(resolve func(chainID int64) (string, error)) *rpcPool {
	return &rpcPool{resolve: resolve, clients: map[string]*rpc.Client{}}
}

func (p *rpcPool) client(ctx context.Context, chainID int64, override string) (*rpc.Client, error) {
	url := strings.TrimSpace(override)
	if url == "" {
		resolved, err := p.resolve(chainID)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
		}
		url = resolved
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "dial rpc", err)
	}
	p.clients[url] = c
	return c, nil
}

func (p *rpcPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}

// openJournal keeps the transfer journal beside the response cache.
func openJournal(settings config.Settings) (*execution.Journal, error) {
	dir := filepath.Dir(settings.CachePath)
	lockDir := filepath.Dir(settings.CacheLockPath)
	return execution.OpenJournal(filepath.Join(dir, "transfers.db"), filepath.Join(lockDir, "transfers.lock"))
}
