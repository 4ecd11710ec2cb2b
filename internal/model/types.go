package model

import (
	"math/big"
	"time"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

type AssetKind string

const (
	AssetNative AssetKind = "NATIVE"
	AssetERC20  AssetKind = "ERC20"
)

type ActionStatus string

const (
	StatusSuccess ActionStatus = "SUCCESS"
	StatusFailed  ActionStatus = "FAILED"
)

// NormalizedAction is one display row of account history.
type NormalizedAction struct {
	From            string       `json:"from"`
	To              string       `json:"to"`
	Value           string       `json:"value"`
	TimestampMillis int64        `json:"timestamp_ms"`
	Status          ActionStatus `json:"status"`
	TxHash          string       `json:"tx_hash"`
	AssetKind       AssetKind    `json:"asset_kind"`
	Symbol          string       `json:"symbol,omitempty"`
	Decimals        *int         `json:"decimals,omitempty"`
	TokenName       string       `json:"token_name,omitempty"`
	TokenAddress    string       `json:"token_address,omitempty"`
}

type HistoryResult struct {
	Address string             `json:"address"`
	ChainID string             `json:"chain_id"`
	Count   int                `json:"count"`
	Results []NormalizedAction `json:"results"`
}

type FeeSource string

const (
	FeeSourceOracle   FeeSource = "oracle"
	FeeSourceFallback FeeSource = "fallback"
)

// FeeQuote is resolved fresh for every submission and never stored.
type FeeQuote struct {
	MaxFeePerGas         *big.Int  `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *big.Int  `json:"max_priority_fee_per_gas"`
	Source               FeeSource `json:"source"`
}

type FeeResult struct {
	ChainID              string    `json:"chain_id"`
	RequiresFeeBidding   bool      `json:"requires_fee_bidding"`
	MaxFeePerGas         string    `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas string    `json:"max_priority_fee_per_gas"`
	MaxFeeGwei           string    `json:"max_fee_gwei"`
	MaxPriorityFeeGwei   string    `json:"max_priority_fee_gwei"`
	Source               FeeSource `json:"source"`
}

type AccountInfo struct {
	Owner          string `json:"owner"`
	Address        string `json:"address"`
	ChainID        string `json:"chain_id"`
	Deployed       *bool  `json:"deployed,omitempty"`
	Factory        string `json:"factory"`
	Singleton      string `json:"singleton"`
	Safe4337Module string `json:"safe_4337_module"`
	EntryPoint     string `json:"entry_point"`
	SaltNonce      string `json:"salt_nonce"`
}

type TokenBalance struct {
	Symbol         string `json:"symbol"`
	Name           string `json:"name,omitempty"`
	AssetID        string `json:"asset_id,omitempty"`
	TokenAddress   string `json:"token_address,omitempty"`
	Decimals       int    `json:"decimals"`
	AmountBaseUnit string `json:"amount_base_units"`
	AmountDecimal  string `json:"amount_decimal"`
	Native         bool   `json:"native"`
}

type BalanceResult struct {
	Address  string         `json:"address"`
	ChainID  string         `json:"chain_id"`
	Balances []TokenBalance `json:"balances"`
}

type NFT struct {
	ChainID         string   `json:"chain_id"`
	ContractAddress string   `json:"contract_address"`
	TokenID         string   `json:"token_id"`
	TokenType       string   `json:"token_type,omitempty"`
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	Collection      string   `json:"collection,omitempty"`
	Balance         string   `json:"balance,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
	ImageCandidates []string `json:"image_candidates,omitempty"`
	AnimationURL    string   `json:"animation_url,omitempty"`
}

type NFTResult struct {
	Owner   string `json:"owner"`
	ChainID string `json:"chain_id"`
	Count   int    `json:"count"`
	Items   []NFT  `json:"items"`
}

// OperationReceipt is the inclusion receipt of a submitted user operation.
type OperationReceipt struct {
	UserOpHash      string `json:"user_op_hash"`
	Sender          string `json:"sender"`
	Nonce           string `json:"nonce"`
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
	ActualGasCost   string `json:"actual_gas_cost"`
	ActualGasUsed   string `json:"actual_gas_used"`
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
}

type TransferResult struct {
	TransferID    string            `json:"transfer_id,omitempty"`
	Mode          string            `json:"mode"`
	ChainID       string            `json:"chain_id"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	AssetID       string            `json:"asset_id,omitempty"`
	Symbol        string            `json:"symbol"`
	AmountBase    string            `json:"amount_base_units"`
	AmountDecimal string            `json:"amount_decimal"`
	TxHash        string            `json:"tx_hash,omitempty"`
	Operation     *OperationReceipt `json:"user_operation,omitempty"`
	FeeQuote      *FeeResult        `json:"fee_quote,omitempty"`
}

type ChainInfo struct {
	Name               string `json:"name"`
	Slug               string `json:"slug"`
	ChainID            string `json:"chain_id"`
	NativeSymbol       string `json:"native_symbol"`
	RequiresFeeBidding bool   `json:"requires_fee_bidding"`
	BundlerConfigured  bool   `json:"bundler_configured"`
	RPCURL             string `json:"rpc_url,omitempty"`
}
