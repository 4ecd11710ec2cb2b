package registry

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// Etherscan v2 multichain explorer API.
	EtherscanBaseURL = "https://api.etherscan.io/v2/api"

	ThirdwebInsightBaseURL = "https://insight.thirdweb.com"

	pimlicoBundlerTemplate = "https://api.pimlico.io/v2/%d/rpc?apikey=%s"
)

// PimlicoBundlerURL builds the hosted bundler endpoint for a chain.
func PimlicoBundlerURL(chainID int64, apiKey string) string {
	return fmt.Sprintf(pimlicoBundlerTemplate, chainID, url.QueryEscape(strings.TrimSpace(apiKey)))
}

// ProxiedEtherscanURL is the explorer endpoint reached through the proxy base.
func ProxiedEtherscanURL(proxyBase string) string {
	return strings.TrimRight(strings.TrimSpace(proxyBase), "/") + "/etherscan/v2/api"
}

// ProxiedThirdwebURL is the insight endpoint reached through the proxy base.
func ProxiedThirdwebURL(proxyBase string) string {
	return strings.TrimRight(strings.TrimSpace(proxyBase), "/") + "/thirdweb"
}

// NormalizeBundlerURL drops a trailing /bundler segment some providers hand out.
func NormalizeBundlerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimRight(raw, "/")
	return strings.TrimSuffix(raw, "/bundler")
}

// Public RPC endpoints used when neither --rpc-url nor rpcs.<chain id> is set.
var publicRPC = map[int64]string{
	1:        "https://eth.llamarpc.com",
	10:       "https://mainnet.optimism.io",
	8453:     "https://mainnet.base.org",
	11155111: "https://ethereum-sepolia-rpc.publicnode.com",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	u, ok := publicRPC[chainID]
	return u, ok
}

// ResolveRPCURL prefers an explicit url over the public default.
func ResolveRPCURL(explicit string, chainID int64) (string, error) {
	if u := strings.TrimSpace(explicit); u != "" {
		return u, nil
	}
	if u, ok := publicRPC[chainID]; ok {
		return u, nil
	}
	return "", fmt.Errorf("no rpc url for chain id %d; pass --rpc-url or set rpcs.%d in config", chainID, chainID)
}
