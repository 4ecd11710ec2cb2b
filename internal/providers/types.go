package providers

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/semi-cli/internal/history"
	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/providers/pimlico"
)

type Provider interface {
	Info() model.ProviderInfo
}

// ExplorerProvider supplies the two account transfer feeds.
type ExplorerProvider interface {
	Provider
	history.FeedClient
}

type NFTProvider interface {
	Provider
	OwnedNFTs(ctx context.Context, owner string, chain id.Chain) ([]model.NFT, error)
}

// BundlerProvider is the ERC-4337 bundler JSON-RPC surface, addressed per call by URL.
type BundlerProvider interface {
	Provider
	UserOperationGasPrice(ctx context.Context, url string) (pimlico.GasPrice, error)
	EstimateUserOperationGas(ctx context.Context, url string, op pimlico.UserOperation, entryPoint common.Address) (pimlico.GasEstimate, error)
	SendUserOperation(ctx context.Context, url string, op pimlico.UserOperation, entryPoint common.Address) (string, error)
	UserOperationReceipt(ctx context.Context, url, hash string) (*pimlico.Receipt, error)
}
