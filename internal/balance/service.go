package balance

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/model"
)

// Dialer returns a batch-capable node client for chainID.
type Dialer func(ctx context.Context, chainID int64) (BatchCaller, error)

// Service reads the popular-token balances of any chain it can dial.
type Service struct {
	dial Dialer
	opts []Option
}

func NewService(dial Dialer, opts ...Option) *Service {
	return &Service{dial: dial, opts: opts}
}

func (s *Service) Balances(ctx context.Context, owner common.Address, chain id.Chain) (model.BalanceResult, []string, error) {
	caller, err := s.dial(ctx, chain.EVMChainID)
	if err != nil {
		return model.BalanceResult{}, nil, err
	}
	return NewReader(caller, s.opts...).Read(ctx, owner, chain, id.Tokens(chain.CAIP2))
}
