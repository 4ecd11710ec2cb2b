package app

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/semi-cli/internal/cache"
	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/server"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wallet HTTP API (actions, fee, balances, nfts, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, err := s.serverCache(ctx)
			if err != nil {
				return err
			}
			if backend != nil {
				s.cache = backend
			}

			cfg := server.Config{Addr: s.settings.ServerAddr, CORSOrigins: s.settings.CORSOrigins}
			if strings.TrimSpace(addr) != "" {
				cfg.Addr = addr
			}
			srv := server.New(cfg, server.Deps{
				History:  s.services.history,
				Fees:     s.services.fees,
				Balances: s.services.balances,
				NFTs:     s.services.nfts,
				Cache:    backend,
				CacheTTL: balancesTTL,
				MaxStale: s.settings.MaxStale,
				Logger:   s.logger,
				Metrics:  s.metrics,
			})
			s.logger.Info("http api listening", "addr", cfg.Addr)
			if err := srv.Run(ctx); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "serve http api", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// serverCache is Redis when configured, otherwise the local sqlite store.
func (s *runtimeState) serverCache(ctx context.Context) (cache.Backend, error) {
	if !s.settings.CacheEnabled {
		return nil, nil
	}
	if strings.TrimSpace(s.settings.RedisURL) != "" {
		store, err := cache.OpenRedis(ctx, s.settings.RedisURL)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "connect redis cache", err)
		}
		return store, nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}
	return store, nil
}
