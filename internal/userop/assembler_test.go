package userop

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
)

type fakeBundler struct {
	steps       []string
	hints       *FeeHints
	submitted   SubmitParams
	estimate    GasEstimate
	estimateErr error
	submitErr   error
	receiptErr  error
}

func (f *fakeBundler) EstimateGas(_ context.Context, params OperationParams, hints *FeeHints) (GasEstimate, error) {
	f.steps = append(f.steps, "estimate")
	f.hints = hints
	return f.estimate, f.estimateErr
}

func (f *fakeBundler) Submit(_ context.Context, params SubmitParams) (string, error) {
	f.steps = append(f.steps, "submit")
	f.submitted = params
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "0xabc", nil
}

func (f *fakeBundler) AwaitReceipt(_ context.Context, hash string) (model.OperationReceipt, error) {
	f.steps = append(f.steps, "receipt")
	return model.OperationReceipt{UserOpHash: hash, Success: f.receiptErr == nil}, f.receiptErr
}

type fakeProbe struct {
	deployed bool
	err      error
	calls    int
}

func (p *fakeProbe) IsDeployed(context.Context, common.Address) (bool, error) {
	p.calls++
	return p.deployed, p.err
}

type fakeFees struct {
	calls int
	quote model.FeeQuote
	err   error
}

func (f *fakeFees) Resolve(context.Context, int64) (model.FeeQuote, error) {
	f.calls++
	return f.quote, f.err
}

func testAccount(chainID int64) smartaccount.Account {
	d, _ := registry.Deployment(chainID)
	return smartaccount.Account{
		Owner:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Address:    common.HexToAddress("0x5555555555555555555555555555555555555555"),
		ChainID:    chainID,
		Deployment: d,
		Factory:    d.SafeProxyFactory,
	}
}

var testCalls = []smartaccount.Call{{To: common.HexToAddress("0x3333333333333333333333333333333333333333"), Value: big.NewInt(1)}}

func TestBuildAndSubmitFeeBiddingChainSendsOverrides(t *testing.T) {
	bundler := &fakeBundler{estimate: GasEstimate{PreVerificationGas: big.NewInt(11), VerificationGasLimit: big.NewInt(22), CallGasLimit: big.NewInt(33)}}
	feeSrc := &fakeFees{quote: model.FeeQuote{MaxFeePerGas: big.NewInt(1_000_000_000), MaxPriorityFeePerGas: big.NewInt(100_000_000), Source: model.FeeSourceOracle}}
	a := NewAssembler(bundler, &fakeProbe{deployed: true}, feeSrc)

	sub, err := a.Execute(context.Background(), testAccount(10), testCalls)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if sub.Receipt.UserOpHash != "0xabc" || !sub.Receipt.Success {
		t.Fatalf("unexpected receipt %+v", sub.Receipt)
	}
	if feeSrc.calls != 1 || sub.FeeQuote == nil {
		t.Fatalf("expected one fee resolution, got %d", feeSrc.calls)
	}
	if bundler.hints == nil || bundler.hints.MaxFeePerGas.Int64() != 1_000_000_000 {
		t.Fatalf("expected fee hints on estimate, got %+v", bundler.hints)
	}
	o := bundler.submitted.Overrides
	if o == nil {
		t.Fatal("expected overrides on a fee bidding chain")
	}
	if o.MaxFeePerGas.Int64() != 1_000_000_000 || o.MaxPriorityFeePerGas.Int64() != 100_000_000 || o.PreVerificationGas.Int64() != 11 || o.VerificationGasLimit.Int64() != 22 {
		t.Fatalf("unexpected overrides %+v", o)
	}
	if !bundler.submitted.Account.Deployed {
		t.Fatal("expected probe result to mark the account deployed")
	}
	if got := bundler.steps; len(got) != 3 || got[0] != "estimate" || got[1] != "submit" || got[2] != "receipt" {
		t.Fatalf("unexpected step order %v", got)
	}
}

func TestBuildAndSubmitNonBiddingChainSkipsFees(t *testing.T) {
	bundler := &fakeBundler{estimate: GasEstimate{PreVerificationGas: big.NewInt(1), VerificationGasLimit: big.NewInt(1), CallGasLimit: big.NewInt(1)}}
	feeSrc := &fakeFees{}
	a := NewAssembler(bundler, &fakeProbe{}, feeSrc)

	if _, err := a.BuildAndSubmit(context.Background(), testAccount(8453), testCalls); err != nil {
		t.Fatalf("BuildAndSubmit failed: %v", err)
	}
	if feeSrc.calls != 0 {
		t.Fatal("fee resolver must not run on chains without fee bidding")
	}
	if bundler.hints != nil || bundler.submitted.Overrides != nil {
		t.Fatalf("expected no hints or overrides, got %+v %+v", bundler.hints, bundler.submitted.Overrides)
	}
}

func TestBuildAndSubmitProbeFailureIsNotFatal(t *testing.T) {
	bundler := &fakeBundler{estimate: GasEstimate{PreVerificationGas: big.NewInt(1), VerificationGasLimit: big.NewInt(1), CallGasLimit: big.NewInt(1)}}
	probe := &fakeProbe{deployed: true, err: errors.New("rpc down")}
	a := NewAssembler(bundler, probe, &fakeFees{}, WithFeeBidding(func(int64) bool { return false }))

	if _, err := a.BuildAndSubmit(context.Background(), testAccount(8453), testCalls); err != nil {
		t.Fatalf("BuildAndSubmit failed: %v", err)
	}
	if bundler.submitted.Account.Deployed {
		t.Fatal("probe failure must be treated as not deployed")
	}
}

func TestBuildAndSubmitPropagatesFailures(t *testing.T) {
	estimateErr := clierr.New(clierr.CodeSubmission, "AA21 didn't pay prefund")
	cases := map[string]struct {
		bundler  *fakeBundler
		fees     *fakeFees
		wantErr  error
		wantStep int
	}{
		"unsupported fees": {bundler: &fakeBundler{}, fees: &fakeFees{err: clierr.Unsupported("no bundler")}, wantStep: 0},
		"estimate":         {bundler: &fakeBundler{estimateErr: estimateErr}, fees: &fakeFees{quote: model.FeeQuote{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}}, wantErr: estimateErr, wantStep: 1},
		"submit": {
			bundler:  &fakeBundler{estimate: GasEstimate{PreVerificationGas: big.NewInt(1), VerificationGasLimit: big.NewInt(1)}, submitErr: estimateErr},
			fees:     &fakeFees{quote: model.FeeQuote{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}},
			wantErr:  estimateErr,
			wantStep: 2,
		},
		"receipt timeout": {
			bundler:  &fakeBundler{estimate: GasEstimate{PreVerificationGas: big.NewInt(1), VerificationGasLimit: big.NewInt(1)}, receiptErr: clierr.New(clierr.CodeTimeout, "timed out")},
			fees:     &fakeFees{quote: model.FeeQuote{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}},
			wantStep: 3,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAssembler(tc.bundler, &fakeProbe{}, tc.fees)
			_, err := a.BuildAndSubmit(context.Background(), testAccount(10), testCalls)
			if err == nil {
				t.Fatal("expected failure")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(tc.bundler.steps) != tc.wantStep {
				t.Fatalf("expected %d bundler steps, got %v", tc.wantStep, tc.bundler.steps)
			}
		})
	}
}

func TestMergeIsPureAndOverridesWin(t *testing.T) {
	base := OperationParams{Account: testAccount(10), Calls: append([]smartaccount.Call(nil), testCalls...)}
	overrides := &FeeOverrides{MaxFeePerGas: big.NewInt(9), PreVerificationGas: big.NewInt(7)}

	merged := Merge(base, overrides)
	again := Merge(base, overrides)
	if merged.Overrides.MaxFeePerGas.Cmp(again.Overrides.MaxFeePerGas) != 0 || len(merged.Calls) != len(again.Calls) {
		t.Fatal("Merge must be deterministic")
	}

	merged.Overrides.MaxFeePerGas.SetInt64(100)
	merged.Calls[0].To = common.Address{}
	if overrides.MaxFeePerGas.Int64() != 9 {
		t.Fatal("Merge must not alias override values")
	}
	if base.Calls[0].To == (common.Address{}) {
		t.Fatal("Merge must not alias the call list")
	}
	if merged.Overrides.MaxPriorityFeePerGas != nil || merged.Overrides.VerificationGasLimit != nil {
		t.Fatal("absent overrides must stay absent")
	}
	if Merge(base, nil).Overrides != nil {
		t.Fatal("nil overrides must stay nil")
	}
}
