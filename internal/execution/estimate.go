package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/fees"
)

// TransferEstimate is the projected cost of an EOA transfer.
type TransferEstimate struct {
	ChainID                 string `json:"chain_id"`
	From                    string `json:"from"`
	EstimatedAt             string `json:"estimated_at"`
	GasEstimateRaw          string `json:"gas_estimate_raw"`
	GasLimit                string `json:"gas_limit"`
	BaseFeePerGasWei        string `json:"base_fee_per_gas_wei"`
	MaxPriorityFeePerGasWei string `json:"max_priority_fee_per_gas_wei"`
	MaxFeePerGasWei         string `json:"max_fee_per_gas_wei"`
	EffectiveGasPriceWei    string `json:"effective_gas_price_wei"`
	LikelyFeeWei            string `json:"likely_fee_wei"`
	WorstCaseFeeWei         string `json:"worst_case_fee_wei"`
}

// EstimateTransfer prices req without signing or broadcasting anything.
func EstimateTransfer(ctx context.Context, client ChainClient, from common.Address, req TransferRequest, gasMultiplier float64) (TransferEstimate, error) {
	if gasMultiplier <= 1 {
		return TransferEstimate{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	call, err := TransferCall(req)
	if err != nil {
		return TransferEstimate{}, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return TransferEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if req.ChainID != 0 && chainID.Int64() != req.ChainID {
		return TransferEstimate{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc chain mismatch: expected %d, got %d", req.ChainID, chainID.Int64()))
	}

	rawGas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &call.To, Value: call.Value, Data: call.Data})
	if err != nil {
		return TransferEstimate{}, clierr.Wrap(clierr.CodeSubmission, "estimate gas", err)
	}
	gasLimit := uint64(float64(rawGas) * gasMultiplier)
	if gasLimit == 0 {
		return TransferEstimate{}, clierr.New(clierr.CodeSubmission, "estimate gas returned zero")
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return TransferEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := big.NewInt(1_000_000_000)
	if header.BaseFee != nil {
		baseFee = new(big.Int).Set(header.BaseFee)
	}
	feeCap, tipCap, err := fees.NetworkDefaults(ctx, client, req.Fees)
	if err != nil {
		return TransferEstimate{}, err
	}

	effective := new(big.Int).Add(baseFee, tipCap)
	if effective.Cmp(feeCap) > 0 {
		effective = new(big.Int).Set(feeCap)
	}
	limit := new(big.Int).SetUint64(gasLimit)
	return TransferEstimate{
		ChainID:                 fmt.Sprintf("eip155:%d", chainID.Int64()),
		From:                    from.Hex(),
		EstimatedAt:             time.Now().UTC().Format(time.RFC3339),
		GasEstimateRaw:          strconv.FormatUint(rawGas, 10),
		GasLimit:                strconv.FormatUint(gasLimit, 10),
		BaseFeePerGasWei:        baseFee.String(),
		MaxPriorityFeePerGasWei: tipCap.String(),
		MaxFeePerGasWei:         feeCap.String(),
		EffectiveGasPriceWei:    effective.String(),
		LikelyFeeWei:            new(big.Int).Mul(limit, effective).String(),
		WorstCaseFeeWei:         new(big.Int).Mul(limit, feeCap).String(),
	}, nil
}
