package fees

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
)

type fakeChain struct {
	tip     *big.Int
	tipErr  error
	baseFee *big.Int
}

func (f fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tip, f.tipErr
}

func (f fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func TestNetworkDefaultsDoubleBaseFeePlusTip(t *testing.T) {
	maxFee, tip, err := NetworkDefaults(context.Background(), fakeChain{tip: big.NewInt(3), baseFee: big.NewInt(10)}, Overrides{})
	if err != nil {
		t.Fatalf("NetworkDefaults failed: %v", err)
	}
	if tip.Int64() != 3 || maxFee.Int64() != 23 {
		t.Fatalf("unexpected fees max=%s tip=%s", maxFee, tip)
	}
}

func TestNetworkDefaultsTipFallback(t *testing.T) {
	_, tip, err := NetworkDefaults(context.Background(), fakeChain{tipErr: errors.New("unsupported"), baseFee: big.NewInt(1)}, Overrides{})
	if err != nil {
		t.Fatalf("NetworkDefaults failed: %v", err)
	}
	if tip.Int64() != 2_000_000_000 {
		t.Fatalf("expected 2 gwei fallback tip, got %s", tip)
	}
}

func TestNetworkDefaultsOverrides(t *testing.T) {
	maxFee, tip, err := NetworkDefaults(context.Background(), fakeChain{tip: big.NewInt(1)}, Overrides{MaxFeeGwei: "3", MaxPriorityFeeGwei: "1.5"})
	if err != nil {
		t.Fatalf("NetworkDefaults failed: %v", err)
	}
	if maxFee.Int64() != 3_000_000_000 || tip.Int64() != 1_500_000_000 {
		t.Fatalf("unexpected fees max=%s tip=%s", maxFee, tip)
	}
	if _, _, err := NetworkDefaults(context.Background(), fakeChain{}, Overrides{MaxFeeGwei: "1", MaxPriorityFeeGwei: "2"}); err == nil {
		t.Fatal("expected max fee below tip to fail")
	}
}

func TestFormatGwei(t *testing.T) {
	cases := map[int64]string{0: "0", 1_500_000_000: "1.5", 30_000_000_000: "30", 1: "0.000000001"}
	for wei, want := range cases {
		if got := FormatGwei(big.NewInt(wei)); got != want {
			t.Fatalf("FormatGwei(%d) = %s, want %s", wei, got, want)
		}
	}
}
