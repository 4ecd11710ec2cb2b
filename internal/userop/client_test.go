package userop

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/providers/pimlico"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
)

type keySigner struct{ key *ecdsa.PrivateKey }

func (s keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s keySigner) SignHash(hash []byte) ([]byte, error) { return crypto.Sign(hash, s.key) }

type fakeRPC struct {
	estimated []pimlico.UserOperation
	sent      *pimlico.UserOperation
	receipts  []*pimlico.Receipt
	polls     int
}

func (f *fakeRPC) EstimateUserOperationGas(_ context.Context, _ string, op pimlico.UserOperation, _ common.Address) (pimlico.GasEstimate, error) {
	f.estimated = append(f.estimated, op)
	return pimlico.GasEstimate{
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(400_000)),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(80_000)),
	}, nil
}

func (f *fakeRPC) SendUserOperation(_ context.Context, _ string, op pimlico.UserOperation, _ common.Address) (string, error) {
	f.sent = &op
	return "0xfeed", nil
}

func (f *fakeRPC) UserOperationReceipt(context.Context, string, string) (*pimlico.Receipt, error) {
	f.polls++
	if len(f.receipts) == 0 {
		return nil, nil
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	if r == nil {
		return nil, errors.New("temporary failure")
	}
	return r, nil
}

type fixedNonce struct{}

func (fixedNonce) Nonce(context.Context, smartaccount.Account) (*big.Int, error) {
	return big.NewInt(4), nil
}

type staticChain struct{}

func (staticChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (staticChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func newTestClient(t *testing.T, rpc *fakeRPC) (*Client, keySigner) {
	t.Helper()
	key, err := crypto.HexToECDSA("59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	s := keySigner{key: key}
	return NewClient(rpc, fixedNonce{}, staticChain{}, s, ClientConfig{BundlerURL: "http://bundler", PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond}), s
}

func TestSubmitSignsSafeOpAndAppliesOverrides(t *testing.T) {
	rpc := &fakeRPC{}
	c, s := newTestClient(t, rpc)
	account := testAccount(10)
	account.Owner = s.Address()
	account.FactoryData = []byte{0xde, 0xad}

	params := Merge(OperationParams{Account: account, Calls: testCalls}, &FeeOverrides{
		MaxFeePerGas:         big.NewInt(1_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(100_000_000),
		PreVerificationGas:   big.NewInt(77),
	})
	hash, err := c.Submit(context.Background(), params)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if hash != "0xfeed" || rpc.sent == nil {
		t.Fatalf("unexpected submission %q", hash)
	}
	op := rpc.sent
	if op.MaxFeePerGas.ToInt().Int64() != 1_000_000_000 || op.MaxPriorityFeePerGas.ToInt().Int64() != 100_000_000 {
		t.Fatalf("fee overrides not applied: %+v", op)
	}
	if op.PreVerificationGas.ToInt().Int64() != 77 {
		t.Fatalf("expected preVerificationGas override to win, got %s", op.PreVerificationGas)
	}
	if op.VerificationGasLimit.ToInt().Int64() != 400_000 || op.CallGasLimit.ToInt().Int64() != 80_000 {
		t.Fatalf("expected estimated limits, got %+v", op)
	}
	if op.Factory == nil || *op.Factory != account.Factory || len(op.FactoryData) != 2 {
		t.Fatal("undeployed account must carry factory data")
	}
	if op.Nonce.ToInt().Int64() != 4 {
		t.Fatalf("unexpected nonce %s", op.Nonce)
	}
	if len(rpc.estimated) != 1 || hexutil.Encode(rpc.estimated[0].Signature) != smartaccount.DummySignature {
		t.Fatal("estimation must use the dummy signature")
	}

	safeOp := smartaccount.SafeOp{
		Safe:                 account.Address,
		Nonce:                big.NewInt(4),
		InitCode:             account.InitCode(),
		CallData:             op.CallData,
		VerificationGasLimit: big.NewInt(400_000),
		CallGasLimit:         big.NewInt(80_000),
		PreVerificationGas:   big.NewInt(77),
		MaxPriorityFeePerGas: big.NewInt(100_000_000),
		MaxFeePerGas:         big.NewInt(1_000_000_000),
		EntryPoint:           account.Deployment.EntryPoint,
	}
	digest, err := safeOp.Hash(10, account.Deployment.Safe4337Module)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig := append([]byte{}, op.Signature[12:]...)
	sig[64] -= 27
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatal("signature does not recover the owner")
	}
}

func TestSubmitDefaultsFeesFromNetwork(t *testing.T) {
	rpc := &fakeRPC{}
	c, s := newTestClient(t, rpc)
	account := testAccount(8453)
	account.Owner = s.Address()
	account.Deployed = true
	account.FactoryData = []byte{0x01}

	if _, err := c.Submit(context.Background(), Merge(OperationParams{Account: account, Calls: testCalls}, nil)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if rpc.sent.MaxPriorityFeePerGas.ToInt().Int64() != 2 || rpc.sent.MaxFeePerGas.ToInt().Int64() != 22 {
		t.Fatalf("expected 2*baseFee+tip defaults, got %+v", rpc.sent)
	}
	if rpc.sent.Factory != nil {
		t.Fatal("deployed account must not carry factory data")
	}
}

func TestSubmitRejectsForeignSigner(t *testing.T) {
	c, _ := newTestClient(t, &fakeRPC{})
	_, err := c.Submit(context.Background(), Merge(OperationParams{Account: testAccount(10), Calls: testCalls}, nil))
	if !clierr.IsCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestAwaitReceiptPollsThroughPendingAndErrors(t *testing.T) {
	done := &pimlico.Receipt{Success: true, ActualGasCost: (*hexutil.Big)(big.NewInt(9))}
	done.Receipt.TransactionHash = "0xtx"
	done.Receipt.BlockNumber = (*hexutil.Big)(big.NewInt(123))
	rpc := &fakeRPC{receipts: []*pimlico.Receipt{nil, nil, done}}
	c, _ := newTestClient(t, rpc)

	receipt, err := c.AwaitReceipt(context.Background(), "0xfeed")
	if err != nil {
		t.Fatalf("AwaitReceipt failed: %v", err)
	}
	if receipt.UserOpHash != "0xfeed" || receipt.TransactionHash != "0xtx" || receipt.BlockNumber != 123 || receipt.ActualGasCost != "9" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if rpc.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", rpc.polls)
	}
}

func TestAwaitReceiptRevertAndTimeout(t *testing.T) {
	reverted := &pimlico.Receipt{Success: false, Reason: "0x08c379a0"}
	c, _ := newTestClient(t, &fakeRPC{receipts: []*pimlico.Receipt{reverted}})
	if _, err := c.AwaitReceipt(context.Background(), "0x1"); !clierr.IsCode(err, clierr.CodeSubmission) {
		t.Fatalf("expected submission error on revert, got %v", err)
	}

	pending, _ := newTestClient(t, &fakeRPC{})
	if _, err := pending.AwaitReceipt(context.Background(), "0x2"); !clierr.IsCode(err, clierr.CodeTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
