package smartaccount

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

// DummySignature has the shape of a real packed signature so bundlers can
// estimate verification gas before the owner signs.
const DummySignature = "0x000000000000000000000000fffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c"

// validity window prefix: validAfter(6) ++ validUntil(6), both zero.
const validityPrefixLength = 12

// SafeOp mirrors the EIP-712 struct the Safe 4337 module verifies.
type SafeOp struct {
	Safe                 common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
	PreVerificationGas   *big.Int
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	PaymasterAndData     []byte
	EntryPoint           common.Address
}

var safeOpTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeOp": {
		{Name: "safe", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "verificationGasLimit", Type: "uint128"},
		{Name: "callGasLimit", Type: "uint128"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint128"},
		{Name: "maxFeePerGas", Type: "uint128"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "validAfter", Type: "uint48"},
		{Name: "validUntil", Type: "uint48"},
		{Name: "entryPoint", Type: "address"},
	},
}

// TypedData builds the EIP-712 payload for op, verified by module on chainID.
func (op SafeOp) TypedData(chainID int64, module common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       safeOpTypes,
		PrimaryType: "SafeOp",
		Domain: apitypes.TypedDataDomain{
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: module.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"safe":                 op.Safe.Hex(),
			"nonce":                decimal(op.Nonce),
			"initCode":             hexutil.Encode(nonNilBytes(op.InitCode)),
			"callData":             hexutil.Encode(nonNilBytes(op.CallData)),
			"verificationGasLimit": decimal(op.VerificationGasLimit),
			"callGasLimit":         decimal(op.CallGasLimit),
			"preVerificationGas":   decimal(op.PreVerificationGas),
			"maxPriorityFeePerGas": decimal(op.MaxPriorityFeePerGas),
			"maxFeePerGas":         decimal(op.MaxFeePerGas),
			"paymasterAndData":     hexutil.Encode(nonNilBytes(op.PaymasterAndData)),
			"validAfter":           "0",
			"validUntil":           "0",
			"entryPoint":           op.EntryPoint.Hex(),
		},
	}
}

// Hash returns the EIP-712 digest the owner signs.
func (op SafeOp) Hash(chainID int64, module common.Address) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(op.TypedData(chainID, module))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "hash SafeOp typed data", err)
	}
	return hash, nil
}

// PackSignature prefixes a 65 byte [R || S || V] signature with the zero
// validity window and normalises V to 27/28.
func PackSignature(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, clierr.New(clierr.CodeSigner, "signature must be 65 bytes")
	}
	out := make([]byte, validityPrefixLength, validityPrefixLength+65)
	out = append(out, sig...)
	if v := out[len(out)-1]; v < 27 {
		out[len(out)-1] = v + 27
	}
	return out, nil
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
