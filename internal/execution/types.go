package execution

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/semi-cli/internal/fees"
)

type TransferStatus string

type TransferMode string

const (
	TransferStatusPlanned   TransferStatus = "planned"
	TransferStatusSubmitted TransferStatus = "submitted"
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusFailed    TransferStatus = "failed"
)

const (
	TransferModeEOA  TransferMode = "eoa"
	TransferModeSafe TransferMode = "safe"
)

// TransferRequest moves Amount base units of the native asset (Token nil)
// or an ERC-20 token to To.
type TransferRequest struct {
	ChainID int64
	To      common.Address
	Token   *common.Address
	Amount  *big.Int
	Fees    fees.Overrides
}

func (r TransferRequest) IsNative() bool {
	return r.Token == nil
}

// Transfer is the journal record of one transfer attempt.
type Transfer struct {
	TransferID   string         `json:"transfer_id"`
	Mode         TransferMode   `json:"mode"`
	Status       TransferStatus `json:"status"`
	ChainID      string         `json:"chain_id"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	AssetID      string         `json:"asset_id,omitempty"`
	Symbol       string         `json:"symbol,omitempty"`
	TokenAddress string         `json:"token_address,omitempty"`
	Decimals     int            `json:"decimals"`
	AmountBase   string         `json:"amount_base_units"`
	TxHash       string         `json:"tx_hash,omitempty"`
	UserOpHash   string         `json:"user_op_hash,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func NewTransfer(transferID string, mode TransferMode, chainID string) Transfer {
	now := time.Now().UTC().Format(time.RFC3339)
	return Transfer{
		TransferID: transferID,
		Mode:       mode,
		Status:     TransferStatusPlanned,
		ChainID:    chainID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (t *Transfer) Touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// MarkFailed records err and moves the transfer to the failed state.
func (t *Transfer) MarkFailed(err error) {
	t.Status = TransferStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
	t.Touch()
}
