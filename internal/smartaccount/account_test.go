package smartaccount

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

var (
	testOwner        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testCreationCode = common.FromHex("0x608060405234801561001057600080fd5b506040516101e63803806101e6")
)

type fakeChain struct {
	creationCalls int
	nonce         *big.Int
	code          []byte
	callErr       error
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	switch {
	case bytes.HasPrefix(call.Data, factoryABI.Methods["proxyCreationCode"].ID):
		f.creationCalls++
		return factoryABI.Methods["proxyCreationCode"].Outputs.Pack(testCreationCode)
	case bytes.HasPrefix(call.Data, entryPointABI.Methods["getNonce"].ID):
		return entryPointABI.Methods["getNonce"].Outputs.Pack(f.nonce)
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

func TestAccountIsDeterministicAndMemoisesCreationCode(t *testing.T) {
	chain := &fakeChain{}
	b := NewBuilder(chain)
	first, err := b.Account(context.Background(), testOwner, 10)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	second, err := b.Account(context.Background(), testOwner, 10)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("expected stable address, got %s and %s", first.Address, second.Address)
	}
	if chain.creationCalls != 1 {
		t.Fatalf("expected creation code to be read once, got %d", chain.creationCalls)
	}
	if first.Address == (common.Address{}) || first.Factory != first.Deployment.SafeProxyFactory {
		t.Fatalf("unexpected account %+v", first)
	}

	other, err := b.Account(context.Background(), common.HexToAddress("0x2222222222222222222222222222222222222222"), 10)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if other.Address == first.Address {
		t.Fatal("different owners must map to different accounts")
	}
	salted, err := b.AccountWithSalt(context.Background(), testOwner, 10, big.NewInt(7))
	if err != nil {
		t.Fatalf("AccountWithSalt failed: %v", err)
	}
	if salted.Address == first.Address {
		t.Fatal("different salt nonces must map to different accounts")
	}
}

func TestAccountAddressMatchesCreate2(t *testing.T) {
	b := NewBuilder(&fakeChain{})
	acct, err := b.Account(context.Background(), testOwner, 11155111)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	d, _ := registry.Deployment(11155111)
	initializer, err := Initializer(d, testOwner)
	if err != nil {
		t.Fatalf("Initializer failed: %v", err)
	}
	salt := crypto.Keccak256Hash(crypto.Keccak256(initializer), make([]byte, 32))
	initHash := crypto.Keccak256(append(append([]byte{}, testCreationCode...), common.LeftPadBytes(d.Safe.Bytes(), 32)...))
	want := crypto.CreateAddress2(d.SafeProxyFactory, salt, initHash)
	if acct.Address != want {
		t.Fatalf("expected %s, got %s", want, acct.Address)
	}

	decoded, err := factoryABI.Methods["createProxyWithNonce"].Inputs.Unpack(acct.FactoryData[4:])
	if err != nil {
		t.Fatalf("decode factory data: %v", err)
	}
	if decoded[0].(common.Address) != d.Safe || !bytes.Equal(decoded[1].([]byte), initializer) || decoded[2].(*big.Int).Sign() != 0 {
		t.Fatalf("unexpected factory data args %v", decoded)
	}
	if !bytes.Equal(acct.InitCode()[:20], d.SafeProxyFactory.Bytes()) {
		t.Fatal("init code must start with the factory address")
	}
	acct.Deployed = true
	if len(acct.InitCode()) != 0 {
		t.Fatal("deployed accounts must have empty init code")
	}
}

func TestInitializerEnablesModule(t *testing.T) {
	d, _ := registry.Deployment(10)
	initializer, err := Initializer(d, testOwner)
	if err != nil {
		t.Fatalf("Initializer failed: %v", err)
	}
	args, err := safeABI.Methods["setup"].Inputs.Unpack(initializer[4:])
	if err != nil {
		t.Fatalf("decode setup: %v", err)
	}
	owners := args[0].([]common.Address)
	if len(owners) != 1 || owners[0] != testOwner || args[1].(*big.Int).Int64() != 1 {
		t.Fatalf("unexpected owners/threshold %v %v", owners, args[1])
	}
	if args[2].(common.Address) != d.AddModuleLib || args[4].(common.Address) != d.Safe4337Module {
		t.Fatalf("unexpected module wiring %v %v", args[2], args[4])
	}
	enable, err := moduleSetupABI.Methods["enableModules"].Inputs.Unpack(args[3].([]byte)[4:])
	if err != nil {
		t.Fatalf("decode enableModules: %v", err)
	}
	if mods := enable[0].([]common.Address); len(mods) != 1 || mods[0] != d.Safe4337Module {
		t.Fatalf("unexpected modules %v", mods)
	}
}

func TestAccountUnsupportedChain(t *testing.T) {
	chain := &fakeChain{}
	_, err := NewBuilder(chain).Account(context.Background(), testOwner, 1)
	if !clierr.IsCode(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if chain.creationCalls != 0 {
		t.Fatal("unsupported chain must not touch the node")
	}
}

func TestNonceAndDeployment(t *testing.T) {
	chain := &fakeChain{nonce: big.NewInt(5), code: []byte{0x60}}
	b := NewBuilder(chain)
	acct, err := b.Account(context.Background(), testOwner, 10)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	nonce, err := b.Nonce(context.Background(), acct)
	if err != nil || nonce.Int64() != 5 {
		t.Fatalf("unexpected nonce %v err=%v", nonce, err)
	}
	deployed, err := b.IsDeployed(context.Background(), acct.Address)
	if err != nil || !deployed {
		t.Fatalf("expected deployed account, got %v err=%v", deployed, err)
	}
}
