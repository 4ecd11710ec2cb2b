package registry

// ABI fragments for the token, Safe and ERC-4337 contracts the wallet talks to.
const (
	ERC20ABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	SafeSetupABI = `[
		{"name":"setup","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_owners","type":"address[]"},{"name":"_threshold","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"},{"name":"fallbackHandler","type":"address"},{"name":"paymentToken","type":"address"},{"name":"payment","type":"uint256"},{"name":"paymentReceiver","type":"address"}],"outputs":[]}
	]`

	SafeModuleSetupABI = `[
		{"name":"enableModules","type":"function","stateMutability":"nonpayable","inputs":[{"name":"modules","type":"address[]"}],"outputs":[]}
	]`

	SafeProxyFactoryABI = `[
		{"name":"createProxyWithNonce","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_singleton","type":"address"},{"name":"initializer","type":"bytes"},{"name":"saltNonce","type":"uint256"}],"outputs":[{"name":"proxy","type":"address"}]},
		{"name":"proxyCreationCode","type":"function","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"bytes"}]}
	]`

	Safe4337ModuleABI = `[
		{"name":"executeUserOp","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],"outputs":[]},
		{"name":"executeUserOpWithErrorString","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],"outputs":[]}
	]`

	MultiSendABI = `[
		{"name":"multiSend","type":"function","stateMutability":"payable","inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}
	]`

	EntryPointABI = `[
		{"name":"getNonce","type":"function","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
	]`
)
