package providers_test

import (
	"testing"

	"github.com/ggonzalez94/semi-cli/internal/providers"
	"github.com/ggonzalez94/semi-cli/internal/providers/etherscan"
	"github.com/ggonzalez94/semi-cli/internal/providers/pimlico"
	"github.com/ggonzalez94/semi-cli/internal/providers/thirdweb"
)

var (
	_ providers.ExplorerProvider = (*etherscan.Client)(nil)
	_ providers.NFTProvider      = (*thirdweb.Client)(nil)
	_ providers.BundlerProvider  = (*pimlico.Client)(nil)
)

func TestProviderInfoRequiresKeys(t *testing.T) {
	all := []providers.Provider{&etherscan.Client{}, &thirdweb.Client{}, &pimlico.Client{}}
	for _, p := range all {
		info := p.Info()
		if info.Name == "" || len(info.Capabilities) == 0 {
			t.Fatalf("provider info incomplete: %+v", info)
		}
	}
}
