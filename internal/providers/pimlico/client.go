package pimlico

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/httpx"
	"github.com/ggonzalez94/semi-cli/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MethodGasPrice        = "pimlico_getUserOperationGasPrice"
	MethodEstimateGas     = "eth_estimateUserOperationGas"
	MethodSendUserOp      = "eth_sendUserOperation"
	MethodUserOpReceipt   = "eth_getUserOperationReceipt"
	jsonRPCVersion        = "2.0"
	defaultRequestID      = 1
	maxErrorMessageLength = 240
)

// Client speaks the ERC-4337 bundler JSON-RPC dialect, including the Pimlico
// gas price extension. Every call is a single attempt.
type Client struct {
	http *httpx.Client
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient.WithRetries(0)}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "pimlico",
		Type:          "bundler",
		RequiresKey:   true,
		KeyEnvVarName: "SEMI_PIMLICO_API_KEY",
		Capabilities:  []string{"fees.oracle", "userop.estimate", "userop.send", "userop.receipt"},
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCError is a JSON-RPC error object returned by the bundler.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	msg := e.Message
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength] + "..."
	}
	return fmt.Sprintf("bundler rpc error %d: %s", e.Code, msg)
}

// UserOperation is the ERC-4337 v0.7 unpacked user operation.
type UserOperation struct {
	Sender               common.Address  `json:"sender"`
	Nonce                *hexutil.Big    `json:"nonce"`
	Factory              *common.Address `json:"factory,omitempty"`
	FactoryData          hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData             hexutil.Bytes   `json:"callData"`
	CallGasLimit         *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Signature            hexutil.Bytes   `json:"signature"`
}

type GasEstimate struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

type Receipt struct {
	UserOpHash    string       `json:"userOpHash"`
	Sender        string       `json:"sender"`
	Nonce         *hexutil.Big `json:"nonce"`
	Success       bool         `json:"success"`
	Reason        string       `json:"reason"`
	ActualGasCost *hexutil.Big `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big `json:"actualGasUsed"`
	Receipt       struct {
		TransactionHash string       `json:"transactionHash"`
		BlockNumber     *hexutil.Big `json:"blockNumber"`
	} `json:"receipt"`
}

// GasPrice carries the raw standard tier quantities; they may be hex or
// decimal strings, or bare JSON numbers.
type GasPrice struct {
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
}

// UserOperationGasPrice posts pimlico_getUserOperationGasPrice with empty params.
func (c *Client) UserOperationGasPrice(ctx context.Context, bundlerURL string) (GasPrice, error) {
	result, err := c.call(ctx, bundlerURL, MethodGasPrice, []any{})
	if err != nil {
		return GasPrice{}, err
	}
	standard := jsoniter.Get(result, "standard")
	if standard.ValueType() != jsoniter.ObjectValue {
		return GasPrice{}, clierr.New(clierr.CodeUnavailable, "gas price response missing standard tier")
	}
	maxFee, ok := quantity(standard.Get("maxFeePerGas"))
	if !ok {
		return GasPrice{}, clierr.New(clierr.CodeUnavailable, "gas price response missing maxFeePerGas")
	}
	tip, ok := quantity(standard.Get("maxPriorityFeePerGas"))
	if !ok {
		return GasPrice{}, clierr.New(clierr.CodeUnavailable, "gas price response missing maxPriorityFeePerGas")
	}
	return GasPrice{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

func (c *Client) EstimateUserOperationGas(ctx context.Context, bundlerURL string, op UserOperation, entryPoint common.Address) (GasEstimate, error) {
	result, err := c.call(ctx, bundlerURL, MethodEstimateGas, []any{op, entryPoint})
	if err != nil {
		return GasEstimate{}, err
	}
	var out GasEstimate
	if err := json.Unmarshal(result, &out); err != nil {
		return GasEstimate{}, clierr.Wrap(clierr.CodeSubmission, "decode gas estimate", err)
	}
	if out.PreVerificationGas == nil || out.VerificationGasLimit == nil || out.CallGasLimit == nil {
		return GasEstimate{}, clierr.New(clierr.CodeSubmission, "bundler returned an incomplete gas estimate")
	}
	return out, nil
}

// SendUserOperation returns the user operation hash assigned by the bundler.
func (c *Client) SendUserOperation(ctx context.Context, bundlerURL string, op UserOperation, entryPoint common.Address) (string, error) {
	result, err := c.call(ctx, bundlerURL, MethodSendUserOp, []any{op, entryPoint})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil || !strings.HasPrefix(hash, "0x") {
		return "", clierr.New(clierr.CodeSubmission, "bundler returned an invalid user operation hash")
	}
	return hash, nil
}

// UserOperationReceipt returns nil while the operation is still pending.
func (c *Client) UserOperationReceipt(ctx context.Context, bundlerURL, userOpHash string) (*Receipt, error) {
	result, err := c.call(ctx, bundlerURL, MethodUserOpReceipt, []any{userOpHash})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var out Receipt
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, clierr.Wrap(clierr.CodeSubmission, "decode user operation receipt", err)
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, bundlerURL, method string, params []any) ([]byte, error) {
	if strings.TrimSpace(bundlerURL) == "" {
		return nil, clierr.New(clierr.CodeUnsupported, "bundler url is not configured")
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{JSONRPC: jsonRPCVersion, Method: method, Params: params, ID: defaultRequestID})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode bundler request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bundlerURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build bundler request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	raw, _, err := c.http.DoRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Result jsoniter.RawMessage `json:"result"`
		Error  *RPCError           `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode bundler response", err)
	}
	if envelope.Error != nil {
		return nil, clierr.Wrap(clierr.CodeSubmission, method, envelope.Error)
	}
	return envelope.Result, nil
}

func quantity(v jsoniter.Any) (string, bool) {
	switch v.ValueType() {
	case jsoniter.StringValue, jsoniter.NumberValue:
		s := strings.TrimSpace(v.ToString())
		return s, s != ""
	default:
		return "", false
	}
}
