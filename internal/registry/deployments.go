package registry

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

// EntryPointV07 is the canonical ERC-4337 v0.7 EntryPoint.
const EntryPointV07 = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"

// ChainDeployment is the Safe v1.4.1 contract set for one chain.
type ChainDeployment struct {
	ChainID                      int64          `json:"chain_id"`
	CompatibilityFallbackHandler common.Address `json:"compatibility_fallback_handler"`
	CreateCall                   common.Address `json:"create_call"`
	MultiSend                    common.Address `json:"multi_send"`
	MultiSendCallOnly            common.Address `json:"multi_send_call_only"`
	Safe                         common.Address `json:"safe"`
	SafeL2                       common.Address `json:"safe_l2"`
	SafeMigration                common.Address `json:"safe_migration"`
	SafeProxyFactory             common.Address `json:"safe_proxy_factory"`
	SafeToL2Migration            common.Address `json:"safe_to_l2_migration"`
	SafeToL2Setup                common.Address `json:"safe_to_l2_setup"`
	SignMessageLib               common.Address `json:"sign_message_lib"`
	SimulateTxAccessor           common.Address `json:"simulate_tx_accessor"`
	Safe4337Module               common.Address `json:"safe_4337_module"`
	AddModuleLib                 common.Address `json:"add_module_lib"`
	EntryPoint                   common.Address `json:"entry_point"`
}

// Safe v1.4.1 singleton-factory deployments share addresses across chains.
func canonicalV141(chainID int64) ChainDeployment {
	return ChainDeployment{
		ChainID:                      chainID,
		CompatibilityFallbackHandler: common.HexToAddress("0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99"),
		CreateCall:                   common.HexToAddress("0x9b35Af71d77eaf8d7e40252370304687390A1A52"),
		MultiSend:                    common.HexToAddress("0x38869bf66a61cF6bDB996A6aE40D5853Fd43B526"),
		MultiSendCallOnly:            common.HexToAddress("0x9641d764fc13c8B624c04430C7356C1C7C8102e2"),
		Safe:                         common.HexToAddress("0x41675C099F32341bf84BFc5382aF534df5C7461a"),
		SafeL2:                       common.HexToAddress("0x29fcB43b46531BcA003ddC8FCB67FFE91900C762"),
		SafeMigration:                common.HexToAddress("0x526643F69b81B008F46d95CD5ced5eC0edFFDaC6"),
		SafeProxyFactory:             common.HexToAddress("0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67"),
		SafeToL2Migration:            common.HexToAddress("0xfF83F6335d8930cBad1c0D439A841f01888D9f69"),
		SafeToL2Setup:                common.HexToAddress("0xBD89A1CE4DDe368FFAB0eC35506eEcE0b1fFdc54"),
		SignMessageLib:               common.HexToAddress("0xd53cd0aB83D845Ac265BE939c57F53AD838012c9"),
		SimulateTxAccessor:           common.HexToAddress("0x3d4BA2E0884aa488718476ca2FB8Efc291A46199"),
		Safe4337Module:               common.HexToAddress("0x75cf11467937ce3F2f357CE24ffc3DBF8fD5c226"),
		AddModuleLib:                 common.HexToAddress("0x8EcD4ec46D4D2a6B64fE960B3D64e8B94B2234eb"),
		EntryPoint:                   common.HexToAddress(EntryPointV07),
	}
}

var deployments = map[int64]ChainDeployment{
	10:       canonicalV141(10),
	8453:     canonicalV141(8453),
	11155111: canonicalV141(11155111),
}

// Chains that need explicit maxFeePerGas/maxPriorityFeePerGas on user operations.
var feeBiddingChains = map[int64]struct{}{
	10:       {},
	11155111: {},
}

// Deployment returns the contract set for chainID or a CodeUnsupported error.
func Deployment(chainID int64) (ChainDeployment, error) {
	d, ok := deployments[chainID]
	if !ok {
		return ChainDeployment{}, clierr.Unsupported("unsupported chain: no smart account deployment for chain id %d", chainID)
	}
	return d, nil
}

func SupportedChainIDs() []int64 {
	out := make([]int64, 0, len(deployments))
	for id := range deployments {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func RequiresFeeBidding(chainID int64) bool {
	_, ok := feeBiddingChains[chainID]
	return ok
}

func IsEntryPoint(address string) bool {
	return strings.EqualFold(strings.TrimSpace(address), EntryPointV07)
}
