package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/id"
)

func TestServiceReadsChainTokenList(t *testing.T) {
	var batches int32
	client := newBatchServer(t, false, &batches)
	var dialed int64
	svc := NewService(func(_ context.Context, chainID int64) (BatchCaller, error) {
		dialed = chainID
		return client, nil
	})

	result, warnings, err := svc.Balances(context.Background(), common.Address{1}, id.ChainByID(10))
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	if dialed != 10 {
		t.Fatalf("expected chain 10 to be dialed, got %d", dialed)
	}
	// Only USDC answers; every other listed token reverts.
	if len(result.Balances) != 2 {
		t.Fatalf("expected native + USDC, got %+v", result.Balances)
	}
	if want := len(id.Tokens("eip155:10")) - 1; len(warnings) != want {
		t.Fatalf("expected %d warnings, got %v", want, warnings)
	}
}

func TestServicePropagatesDialErrors(t *testing.T) {
	svc := NewService(func(context.Context, int64) (BatchCaller, error) {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "dial rpc", errors.New("refused"))
	})
	_, _, err := svc.Balances(context.Background(), common.Address{1}, id.ChainByID(8453))
	if !clierr.IsCode(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
