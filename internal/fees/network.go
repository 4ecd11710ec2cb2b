package fees

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/id"
)

var (
	defaultTipCap  = big.NewInt(2_000_000_000)
	defaultBaseFee = big.NewInt(1_000_000_000)
)

// ChainReader is the subset of ethclient.Client needed for EIP-1559 defaults.
type ChainReader interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Overrides are user supplied gwei amounts; empty means "derive from chain".
type Overrides struct {
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

// NetworkDefaults derives EIP-1559 caps from the node: tip from
// eth_maxPriorityFeePerGas (2 gwei when the node cannot suggest one) and
// max fee = 2*baseFee + tip.
func NetworkDefaults(ctx context.Context, client ChainReader, overrides Overrides) (maxFee, tip *big.Int, err error) {
	tip, err = resolveTipCap(ctx, client, overrides.MaxPriorityFeeGwei)
	if err != nil {
		return nil, nil, err
	}
	var baseFee *big.Int
	if strings.TrimSpace(overrides.MaxFeeGwei) == "" {
		header, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
		}
		baseFee = header.BaseFee
	}
	if baseFee == nil {
		baseFee = defaultBaseFee
	}
	maxFee, err = resolveFeeCap(baseFee, tip, overrides.MaxFeeGwei)
	if err != nil {
		return nil, nil, err
	}
	return maxFee, tip, nil
}

func resolveTipCap(ctx context.Context, client ChainReader, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := ParseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		return new(big.Int).Set(defaultTipCap), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := ParseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

// ParseGwei converts a decimal gwei amount into wei.
func ParseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

// FormatGwei renders wei as a trimmed decimal gwei string.
func FormatGwei(wei *big.Int) string {
	return id.FormatUnits(wei, 9)
}
