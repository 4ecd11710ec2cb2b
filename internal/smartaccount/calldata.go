package smartaccount

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

const (
	OperationCall         uint8 = 0
	OperationDelegateCall uint8 = 1
)

// Call is one inner call executed by the account.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// EncodeCallData builds the Safe 4337 module call data: a direct
// executeUserOp for a single call, or a MultiSend delegate call for a batch.
func EncodeCallData(account Account, calls []Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, clierr.New(clierr.CodeUsage, "user operation needs at least one call")
	case 1:
		c := calls[0]
		out, err := moduleABI.Pack("executeUserOp", c.To, valueOrZero(c.Value), nonNilBytes(c.Data), OperationCall)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "pack executeUserOp", err)
		}
		return out, nil
	}
	batch, err := multiSendABI.Pack("multiSend", EncodeMultiSend(calls))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack multiSend", err)
	}
	out, err := moduleABI.Pack("executeUserOp", account.Deployment.MultiSend, big.NewInt(0), batch, OperationDelegateCall)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack executeUserOp", err)
	}
	return out, nil
}

// EncodeMultiSend packs calls as operation(1) ++ to(20) ++ value(32) ++
// dataLength(32) ++ data, concatenated.
func EncodeMultiSend(calls []Call) []byte {
	var out []byte
	for _, c := range calls {
		out = append(out, OperationCall)
		out = append(out, c.To.Bytes()...)
		out = append(out, common.LeftPadBytes(valueOrZero(c.Value).Bytes(), 32)...)
		out = append(out, common.LeftPadBytes(big.NewInt(int64(len(c.Data))).Bytes(), 32)...)
		out = append(out, c.Data...)
	}
	return out
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
