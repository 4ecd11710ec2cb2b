package userop

import (
	"math/big"

	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
)

// OperationParams is the base of a user operation: who sends it and what it does.
type OperationParams struct {
	Account smartaccount.Account
	Calls   []smartaccount.Call
}

// FeeOverrides are explicit fee and gas values that must win over bundler estimates.
type FeeOverrides struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
}

// FeeHints seed gas estimation with the fees the operation will be sent with.
type FeeHints struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// SubmitParams is what the bundler receives: the base operation plus overrides.
type SubmitParams struct {
	OperationParams
	Overrides *FeeOverrides
}

// Submission is the outcome of one assembled operation.
type Submission struct {
	Receipt  model.OperationReceipt
	FeeQuote *model.FeeQuote
}

// Merge layers overrides onto base without touching either input.
func Merge(base OperationParams, overrides *FeeOverrides) SubmitParams {
	out := SubmitParams{OperationParams: OperationParams{Account: base.Account}}
	if base.Calls != nil {
		out.Calls = make([]smartaccount.Call, len(base.Calls))
		copy(out.Calls, base.Calls)
	}
	if overrides != nil {
		out.Overrides = &FeeOverrides{
			MaxFeePerGas:         copyInt(overrides.MaxFeePerGas),
			MaxPriorityFeePerGas: copyInt(overrides.MaxPriorityFeePerGas),
			PreVerificationGas:   copyInt(overrides.PreVerificationGas),
			VerificationGasLimit: copyInt(overrides.VerificationGasLimit),
		}
	}
	return out
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
