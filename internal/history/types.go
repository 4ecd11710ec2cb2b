package history

import (
	"math/big"

	"github.com/ggonzalez94/semi-cli/internal/model"
)

// DefaultNativeSymbol is used for native rows when the feed did not set one.
const DefaultNativeSymbol = "ETH"

// RawTransferRecord is one transfer as reported by an explorer feed.
type RawTransferRecord struct {
	Kind             model.AssetKind
	From             string
	To               string
	Value            *big.Int
	TimestampSeconds int64
	Success          bool
	TxHash           string
	Creation         bool

	// ERC-20 only, except Symbol which carries the native symbol for native rows.
	Symbol          string
	Name            string
	ContractAddress string
	Decimals        *int
}
