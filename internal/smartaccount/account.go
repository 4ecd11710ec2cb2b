package smartaccount

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	gocache "github.com/patrickmn/go-cache"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

var (
	safeABI        = mustABI(registry.SafeSetupABI)
	moduleSetupABI = mustABI(registry.SafeModuleSetupABI)
	factoryABI     = mustABI(registry.SafeProxyFactoryABI)
	moduleABI      = mustABI(registry.Safe4337ModuleABI)
	multiSendABI   = mustABI(registry.MultiSendABI)
	entryPointABI  = mustABI(registry.EntryPointABI)
)

// ChainReader is the read-only node surface the builder needs; ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Account is a counterfactual Safe owned by a single key.
type Account struct {
	Owner       common.Address
	Address     common.Address
	ChainID     int64
	SaltNonce   *big.Int
	Deployment  registry.ChainDeployment
	Factory     common.Address
	FactoryData []byte
	Deployed    bool
}

// InitCode is factory ++ factoryData, or empty once the account exists.
func (a Account) InitCode() []byte {
	if a.Deployed || len(a.FactoryData) == 0 {
		return []byte{}
	}
	out := make([]byte, 0, common.AddressLength+len(a.FactoryData))
	out = append(out, a.Factory.Bytes()...)
	return append(out, a.FactoryData...)
}

type Builder struct {
	chain ChainReader
	codes *gocache.Cache
}

// NewBuilder memoises proxy creation code per chain and factory for the
// lifetime of the process.
func NewBuilder(chain ChainReader) *Builder {
	return &Builder{chain: chain, codes: gocache.New(gocache.NoExpiration, 0)}
}

// Account derives the Safe address for owner on chainID with salt nonce 0.
func (b *Builder) Account(ctx context.Context, owner common.Address, chainID int64) (Account, error) {
	return b.AccountWithSalt(ctx, owner, chainID, big.NewInt(0))
}

func (b *Builder) AccountWithSalt(ctx context.Context, owner common.Address, chainID int64, saltNonce *big.Int) (Account, error) {
	d, err := registry.Deployment(chainID)
	if err != nil {
		return Account{}, err
	}
	if owner == (common.Address{}) {
		return Account{}, clierr.New(clierr.CodeUsage, "owner address must not be zero")
	}
	if saltNonce == nil {
		saltNonce = big.NewInt(0)
	}
	initializer, err := Initializer(d, owner)
	if err != nil {
		return Account{}, err
	}
	creationCode, err := b.proxyCreationCode(ctx, chainID, d.SafeProxyFactory)
	if err != nil {
		return Account{}, err
	}
	factoryData, err := factoryABI.Pack("createProxyWithNonce", d.Safe, initializer, saltNonce)
	if err != nil {
		return Account{}, clierr.Wrap(clierr.CodeInternal, "pack createProxyWithNonce", err)
	}
	return Account{
		Owner:       owner,
		Address:     PredictAddress(d.SafeProxyFactory, d.Safe, initializer, saltNonce, creationCode),
		ChainID:     chainID,
		SaltNonce:   new(big.Int).Set(saltNonce),
		Deployment:  d,
		Factory:     d.SafeProxyFactory,
		FactoryData: factoryData,
	}, nil
}

// IsDeployed reports whether code exists at address.
func (b *Builder) IsDeployed(ctx context.Context, address common.Address) (bool, error) {
	code, err := b.chain.CodeAt(ctx, address, nil)
	if err != nil {
		return false, clierr.Wrap(clierr.CodeUnavailable, "read account code", err)
	}
	return len(code) > 0, nil
}

// Nonce reads EntryPoint.getNonce(sender, 0).
func (b *Builder) Nonce(ctx context.Context, account Account) (*big.Int, error) {
	data, err := entryPointABI.Pack("getNonce", account.Address, big.NewInt(0))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack getNonce", err)
	}
	entryPoint := account.Deployment.EntryPoint
	out, err := b.chain.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read entry point nonce", err)
	}
	values, err := entryPointABI.Unpack("getNonce", out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode entry point nonce", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid entry point nonce")
	}
	return nonce, nil
}

func (b *Builder) proxyCreationCode(ctx context.Context, chainID int64, factory common.Address) ([]byte, error) {
	key := fmt.Sprintf("%d:%s", chainID, strings.ToLower(factory.Hex()))
	if v, ok := b.codes.Get(key); ok {
		return v.([]byte), nil
	}
	data, err := factoryABI.Pack("proxyCreationCode")
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack proxyCreationCode", err)
	}
	out, err := b.chain.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read proxy creation code", err)
	}
	values, err := factoryABI.Unpack("proxyCreationCode", out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode proxy creation code", err)
	}
	code, ok := values[0].([]byte)
	if !ok || len(code) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "empty proxy creation code")
	}
	b.codes.Set(key, code, gocache.NoExpiration)
	return code, nil
}

// Initializer encodes Safe.setup for a 1-of-1 Safe with the 4337 module
// enabled and installed as fallback handler.
func Initializer(d registry.ChainDeployment, owner common.Address) ([]byte, error) {
	enable, err := moduleSetupABI.Pack("enableModules", []common.Address{d.Safe4337Module})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack enableModules", err)
	}
	out, err := safeABI.Pack("setup",
		[]common.Address{owner},
		big.NewInt(1),
		d.AddModuleLib,
		enable,
		d.Safe4337Module,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack Safe setup", err)
	}
	return out, nil
}

// PredictAddress is the CREATE2 address SafeProxyFactory.createProxyWithNonce deploys to.
func PredictAddress(factory, singleton common.Address, initializer []byte, saltNonce *big.Int, creationCode []byte) common.Address {
	salt := crypto.Keccak256(crypto.Keccak256(initializer), common.LeftPadBytes(saltNonce.Bytes(), 32))
	deployment := make([]byte, 0, len(creationCode)+32)
	deployment = append(deployment, creationCode...)
	deployment = append(deployment, common.LeftPadBytes(singleton.Bytes(), 32)...)
	var salt32 [32]byte
	copy(salt32[:], salt)
	return crypto.CreateAddress2(factory, salt32, crypto.Keccak256(deployment))
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
