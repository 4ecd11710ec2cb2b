// Package server exposes the wallet read APIs over HTTP for a browser front end.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/ggonzalez94/semi-cli/internal/cache"
	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/fees"
	"github.com/ggonzalez94/semi-cli/internal/history"
	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/model"
)

const defaultChainID = 10

type HistoryLister interface {
	List(ctx context.Context, address string, chain id.Chain) history.Result
}

type FeeResolver interface {
	Resolve(ctx context.Context, chainID int64) (model.FeeQuote, error)
}

type BalanceReader interface {
	Balances(ctx context.Context, owner common.Address, chain id.Chain) (model.BalanceResult, []string, error)
}

type NFTLister interface {
	OwnedNFTs(ctx context.Context, owner string, chain id.Chain) ([]model.NFT, error)
}

// Deps are the services behind the routes. Nil services disable their route
// with 501.
type Deps struct {
	History  HistoryLister
	Fees     FeeResolver
	Balances BalanceReader
	NFTs     NFTLister
	Cache    cache.Backend
	CacheTTL time.Duration
	MaxStale time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

type Config struct {
	Addr        string
	CORSOrigins []string
}

type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

type ActionsResponse struct {
	Count    int                      `json:"count"`
	Results  []model.NormalizedAction `json:"results"`
	Warnings []string                 `json:"warnings,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 30 * time.Second
	}
	s := &Server{deps: deps}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(cfg.CORSOrigins))
	engine.Use(s.observe)

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	api := engine.Group("/api")
	{
		api.GET("/actions", s.actions)
		api.GET("/fee", s.fee)
		api.GET("/balances", s.balances)
		api.GET("/nfts", s.nfts)
	}
	s.engine = engine
	s.http = &http.Server{Addr: cfg.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return clierr.Wrap(clierr.CodeUnavailable, "http server", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return cors.New(cfg)
}

func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := c.Writer.Status()
	s.deps.Metrics.HTTPRequest(route, status)
	s.deps.Logger.Debug("http request", "route", route, "status", status, "latency_ms", time.Since(start).Milliseconds())
}

// actions never fails with a 5xx: upstream problems degrade to an empty list
// with an error message so the front end keeps rendering.
func (s *Server) actions(c *gin.Context) {
	resp := ActionsResponse{Results: []model.NormalizedAction{}}
	address, err := id.ParseAddress(c.Query("safeAddress"), "safeAddress")
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	chain, err := chainParam(c)
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	if s.deps.History == nil {
		resp.Error = "history is not configured"
		c.JSON(http.StatusOK, resp)
		return
	}
	result := s.deps.History.List(c.Request.Context(), address, chain)
	resp.Results = result.Actions
	resp.Count = len(result.Actions)
	resp.Warnings = result.Warnings
	if len(result.Warnings) > 0 && resp.Count == 0 {
		resp.Error = strings.Join(result.Warnings, "; ")
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) fee(c *gin.Context) {
	if s.deps.Fees == nil {
		writeError(c, clierr.New(clierr.CodeUnsupported, "fee resolution is not configured"))
		return
	}
	chain, err := chainParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	quote, err := s.deps.Fees.Resolve(c.Request.Context(), chain.EVMChainID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fees.Describe(chain.EVMChainID, quote))
}

func (s *Server) balances(c *gin.Context) {
	if s.deps.Balances == nil {
		writeError(c, clierr.New(clierr.CodeUnsupported, "balances are not configured"))
		return
	}
	address, err := id.ParseAddress(c.Query("address"), "address")
	if err != nil {
		writeError(c, err)
		return
	}
	chain, err := chainParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	key := fmt.Sprintf("balances|%s|%s", chain.CAIP2, strings.ToLower(address))
	s.cached(c, key, func(ctx context.Context) (any, []string, error) {
		return s.deps.Balances.Balances(ctx, common.HexToAddress(address), chain)
	})
}

func (s *Server) nfts(c *gin.Context) {
	if s.deps.NFTs == nil {
		writeError(c, clierr.New(clierr.CodeUnsupported, "nfts are not configured"))
		return
	}
	owner, err := id.ParseAddress(c.Query("owner"), "owner")
	if err != nil {
		writeError(c, err)
		return
	}
	chain, err := chainParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	key := fmt.Sprintf("nfts|%s|%s", chain.CAIP2, strings.ToLower(owner))
	s.cached(c, key, func(ctx context.Context) (any, []string, error) {
		items, err := s.deps.NFTs.OwnedNFTs(ctx, owner, chain)
		if err != nil {
			return nil, nil, err
		}
		return model.NFTResult{Owner: owner, ChainID: chain.CAIP2, Count: len(items), Items: items}, nil, nil
	})
}

type cachedPayload struct {
	Data     jsoniter.RawMessage `json:"data"`
	Warnings []string            `json:"warnings,omitempty"`
}

// cached serves key from the cache when fresh, refreshes it otherwise and
// falls back to a stale copy when the refresh fails.
func (s *Server) cached(c *gin.Context, key string, fetch func(context.Context) (any, []string, error)) {
	var stale []byte
	if s.deps.Cache != nil {
		res, err := s.deps.Cache.Get(key, s.deps.MaxStale)
		if err != nil {
			s.deps.Logger.Warn("cache read failed", "key", key, "error", err)
		}
		if err == nil && res.Hit && !res.Stale {
			c.Header("X-Cache", "hit")
			c.Data(http.StatusOK, "application/json; charset=utf-8", res.Value)
			return
		}
		if err == nil && res.Hit && !res.TooStale {
			stale = res.Value
		}
	}

	data, warnings, err := fetch(c.Request.Context())
	if err != nil {
		if stale != nil {
			s.deps.Logger.Warn("serving stale response", "key", key, "error", err)
			c.Header("X-Cache", "stale")
			c.Data(http.StatusOK, "application/json; charset=utf-8", stale)
			return
		}
		writeError(c, err)
		return
	}
	raw, err := jsoniter.Marshal(data)
	if err != nil {
		writeError(c, clierr.Wrap(clierr.CodeInternal, "encode response", err))
		return
	}
	body, err := jsoniter.Marshal(cachedPayload{Data: raw, Warnings: warnings})
	if err != nil {
		writeError(c, clierr.Wrap(clierr.CodeInternal, "encode response", err))
		return
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(key, body, s.deps.CacheTTL); err != nil {
			s.deps.Logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	c.Header("X-Cache", "miss")
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func chainParam(c *gin.Context) (id.Chain, error) {
	raw := strings.TrimSpace(c.Query("chainId"))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("chain"))
	}
	if raw == "" {
		return id.ChainByID(defaultChainID), nil
	}
	return id.ParseChain(raw)
}

func writeError(c *gin.Context, err error) {
	code := clierr.CodeInternal
	if cliErr, ok := clierr.As(err); ok {
		code = cliErr.Code
	}
	c.JSON(httpStatus(code), gin.H{"error": gin.H{"code": int(code), "type": code.TypeName(), "message": err.Error()}})
}

func httpStatus(code clierr.Code) int {
	switch code {
	case clierr.CodeUsage:
		return http.StatusBadRequest
	case clierr.CodeAuth:
		return http.StatusUnauthorized
	case clierr.CodeRateLimited:
		return http.StatusTooManyRequests
	case clierr.CodeUnsupported:
		return http.StatusNotImplemented
	case clierr.CodeUnavailable, clierr.CodeStale:
		return http.StatusBadGateway
	case clierr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
