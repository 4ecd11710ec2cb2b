// Package balance reads native and popular ERC-20 balances over JSON-RPC batches.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

const (
	defaultBatchSize   = 20
	defaultConcurrency = 4
)

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// BatchCaller is satisfied by *rpc.Client.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

type Reader struct {
	rpc       BatchCaller
	logger    *slog.Logger
	batchSize int
}

type Option func(*Reader)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewReader(caller BatchCaller, opts ...Option) *Reader {
	r := &Reader{rpc: caller, logger: logging.Discard(), batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type request struct {
	native bool
	token  id.Token
}

// Read returns the native balance followed by every token in tokens. Tokens
// whose call fails are left out and reported as warnings; only a failed
// native balance or a failed transport is an error.
func (r *Reader) Read(ctx context.Context, owner common.Address, chain id.Chain, tokens []id.Token) (model.BalanceResult, []string, error) {
	reqs := make([]request, 0, len(tokens)+1)
	reqs = append(reqs, request{native: true})
	for _, t := range tokens {
		reqs = append(reqs, request{token: t})
	}

	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return model.BalanceResult{}, nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf", err)
	}
	elems := make([]rpc.BatchElem, len(reqs))
	for i, req := range reqs {
		if req.native {
			elems[i] = rpc.BatchElem{
				Method: "eth_getBalance",
				Args:   []any{owner, "latest"},
				Result: new(hexutil.Big),
			}
			continue
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{map[string]any{
				"to":   common.HexToAddress(req.token.Address),
				"data": hexutil.Bytes(data),
			}, "latest"},
			Result: new(hexutil.Bytes),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for start := 0; start < len(elems); start += r.batchSize {
		end := min(start+r.batchSize, len(elems))
		chunk := elems[start:end]
		g.Go(func() error {
			return r.rpc.BatchCallContext(gctx, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return model.BalanceResult{}, nil, clierr.Wrap(clierr.CodeUnavailable, "balance batch call", err)
	}

	result := model.BalanceResult{
		Address:  owner.Hex(),
		ChainID:  chain.CAIP2,
		Balances: make([]model.TokenBalance, 0, len(reqs)),
	}
	warnings := []string{}
	for i, req := range reqs {
		elem := elems[i]
		if req.native {
			if elem.Error != nil {
				return model.BalanceResult{}, nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", elem.Error)
			}
			amount := (*big.Int)(elem.Result.(*hexutil.Big))
			result.Balances = append(result.Balances, nativeBalance(chain, amount))
			continue
		}
		amount, err := decodeTokenBalance(elem)
		if err != nil {
			r.logger.WarnContext(ctx, "token balance unavailable", "symbol", req.token.Symbol, "token", req.token.Address, "error", err)
			warnings = append(warnings, fmt.Sprintf("%s balance unavailable: %v", req.token.Symbol, err))
			continue
		}
		result.Balances = append(result.Balances, tokenBalance(chain, req.token, amount))
	}
	return result, warnings, nil
}

func decodeTokenBalance(elem rpc.BatchElem) (*big.Int, error) {
	if elem.Error != nil {
		return nil, elem.Error
	}
	raw := *elem.Result.(*hexutil.Bytes)
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}
	values, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf type %T", values[0])
	}
	return amount, nil
}

func nativeBalance(chain id.Chain, amount *big.Int) model.TokenBalance {
	return model.TokenBalance{
		Symbol:         chain.NativeSymbol,
		Decimals:       18,
		AmountBaseUnit: amount.String(),
		AmountDecimal:  id.FormatUnits(amount, 18),
		Native:         true,
	}
}

func tokenBalance(chain id.Chain, token id.Token, amount *big.Int) model.TokenBalance {
	return model.TokenBalance{
		Symbol:         token.Symbol,
		Name:           token.Name,
		AssetID:        fmt.Sprintf("%s/erc20:%s", chain.CAIP2, strings.ToLower(token.Address)),
		TokenAddress:   token.Address,
		Decimals:       token.Decimals,
		AmountBaseUnit: amount.String(),
		AmountDecimal:  id.FormatUnits(amount, token.Decimals),
	}
}
