package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/fees"
	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
)

const (
	balancesTTL = 30 * time.Second
	nftsTTL     = 5 * time.Minute
)

func (s *runtimeState) newChainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains with a smart account deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]model.ChainInfo, 0)
			for _, chainID := range registry.SupportedChainIDs() {
				chain := id.ChainByID(chainID)
				_, bundler := s.settings.BundlerURL(chainID)
				rpcURL, _ := s.settings.RPCURL(chainID)
				items = append(items, model.ChainInfo{
					Name:               chain.Name,
					Slug:               chain.Slug,
					ChainID:            chain.CAIP2,
					NativeSymbol:       chain.NativeSymbol,
					RequiresFeeBidding: registry.RequiresFeeBidding(chainID),
					BundlerConfigured:  bundler,
					RPCURL:             rpcURL,
				})
			}
			return s.emit(cmd, items)
		},
	}
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var addressArg, chainArg string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Normalized native and token transfer history of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := id.ParseAddress(addressArg, "--address")
			if err != nil {
				return err
			}
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			if limit < 0 {
				return clierr.New(clierr.CodeUsage, "--limit must be >= 0")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.HistoryTimeout+s.settings.Timeout)
			defer cancel()
			result := s.services.history.List(ctx, address, chain)
			actions := result.Actions
			if limit > 0 && len(actions) > limit {
				actions = actions[:limit]
			}
			data := model.HistoryResult{Address: address, ChainID: chain.CAIP2, Count: len(actions), Results: actions}
			return s.emitPartial(trimRootPath(cmd.CommandPath()), data, result.Warnings, result.Feeds)
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Account address")
	cmd.Flags().StringVar(&chainArg, "chain", "optimism", "Chain id/name/CAIP-2")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum actions to return (0 = all)")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func (s *runtimeState) newFeeCommand() *cobra.Command {
	var chainArg string
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Quote user operation fees from the bundler gas price oracle",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			start := time.Now()
			quote, err := s.services.fees.Resolve(cmd.Context(), chain.EVMChainID)
			status := providerStatus(s.services.bundler.Info().Name, start, err)
			if err != nil {
				s.record(nil, status, false)
				return err
			}
			var warnings []string
			if quote.Source == model.FeeSourceFallback {
				warnings = append(warnings, "gas price oracle unavailable; using fallback fees")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), fees.Describe(chain.EVMChainID, quote), warnings, bypassed(), status, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "optimism", "Chain id/name/CAIP-2")
	return cmd
}

func (s *runtimeState) newAccountCommand() *cobra.Command {
	root := &cobra.Command{Use: "account", Short: "Smart account commands"}

	var addressOwner, addressChain, addressRPC string
	addressCmd := &cobra.Command{
		Use:   "address",
		Short: "Derive the counterfactual smart account address of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := s.describeAccount(cmd.Context(), addressOwner, addressChain, addressRPC, false)
			if err != nil {
				return err
			}
			return s.emit(cmd, info)
		},
	}
	addressCmd.Flags().StringVar(&addressOwner, "owner", "", "Owner EOA address")
	addressCmd.Flags().StringVar(&addressChain, "chain", "optimism", "Chain id/name/CAIP-2")
	addressCmd.Flags().StringVar(&addressRPC, "rpc-url", "", "RPC URL override")
	_ = addressCmd.MarkFlagRequired("owner")

	var statusOwner, statusChain, statusRPC string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Derive the smart account address and report whether it is deployed",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := s.describeAccount(cmd.Context(), statusOwner, statusChain, statusRPC, true)
			if err != nil {
				return err
			}
			return s.emit(cmd, info)
		},
	}
	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "Owner EOA address")
	statusCmd.Flags().StringVar(&statusChain, "chain", "optimism", "Chain id/name/CAIP-2")
	statusCmd.Flags().StringVar(&statusRPC, "rpc-url", "", "RPC URL override")
	_ = statusCmd.MarkFlagRequired("owner")

	root.AddCommand(addressCmd)
	root.AddCommand(statusCmd)
	return root
}

func (s *runtimeState) describeAccount(ctx context.Context, ownerArg, chainArg, rpcURL string, probe bool) (model.AccountInfo, error) {
	ownerRaw, err := id.ParseAddress(ownerArg, "--owner")
	if err != nil {
		return model.AccountInfo{}, err
	}
	chain, err := id.ParseChain(chainArg)
	if err != nil {
		return model.AccountInfo{}, err
	}
	if _, err := registry.Deployment(chain.EVMChainID); err != nil {
		return model.AccountInfo{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	client, err := s.services.ethClient(ctx, chain.EVMChainID, rpcURL)
	if err != nil {
		return model.AccountInfo{}, err
	}
	builder := smartaccount.NewBuilder(client)
	account, err := builder.Account(ctx, common.HexToAddress(ownerRaw), chain.EVMChainID)
	if err != nil {
		return model.AccountInfo{}, err
	}
	info := accountInfo(account, chain)
	if probe {
		deployed, err := builder.IsDeployed(ctx, account.Address)
		if err != nil {
			return model.AccountInfo{}, err
		}
		info.Deployed = &deployed
	}
	return info, nil
}

func accountInfo(account smartaccount.Account, chain id.Chain) model.AccountInfo {
	return model.AccountInfo{
		Owner:          account.Owner.Hex(),
		Address:        account.Address.Hex(),
		ChainID:        chain.CAIP2,
		Factory:        account.Factory.Hex(),
		Singleton:      account.Deployment.Safe.Hex(),
		Safe4337Module: account.Deployment.Safe4337Module.Hex(),
		EntryPoint:     account.Deployment.EntryPoint.Hex(),
		SaltNonce:      account.SaltNonce.String(),
	}
}

func (s *runtimeState) newBalancesCommand() *cobra.Command {
	var addressArg, chainArg string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Native and popular token balances of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := id.ParseAddress(addressArg, "--address")
			if err != nil {
				return err
			}
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path, map[string]any{"address": address, "chain": chain.CAIP2})
			return s.runCachedCommand(path, key, balancesTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				data, warnings, err := s.services.balances.Balances(ctx, common.HexToAddress(address), chain)
				return data, providerStatus("rpc", start, err), warnings, len(warnings) > 0, err
			})
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Account address")
	cmd.Flags().StringVar(&chainArg, "chain", "optimism", "Chain id/name/CAIP-2")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func (s *runtimeState) newNFTsCommand() *cobra.Command {
	var ownerArg, chainArg string
	cmd := &cobra.Command{
		Use:   "nfts",
		Short: "NFTs owned by an account, with IPFS media resolved to gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := id.ParseAddress(ownerArg, "--owner")
			if err != nil {
				return err
			}
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path, map[string]any{"owner": owner, "chain": chain.CAIP2})
			return s.runCachedCommand(path, key, nftsTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				items, err := s.services.nfts.OwnedNFTs(ctx, owner, chain)
				status := providerStatus(s.services.nfts.Info().Name, start, err)
				if err != nil {
					return nil, status, nil, false, err
				}
				return model.NFTResult{Owner: owner, ChainID: chain.CAIP2, Count: len(items), Items: items}, status, nil, false, nil
			})
		},
	}
	cmd.Flags().StringVar(&ownerArg, "owner", "", "Owner address")
	cmd.Flags().StringVar(&chainArg, "chain", "optimism", "Chain id/name/CAIP-2")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
