package policy

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// ValidateTransfer rejects transfers that can only lose funds. token is nil
// for the native asset.
func ValidateTransfer(to common.Address, token *common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "recipient must not be the zero address")
	}
	if registry.IsEntryPoint(to.Hex()) {
		return clierr.New(clierr.CodeUsage, "recipient must not be the EntryPoint contract")
	}
	if token != nil {
		if *token == (common.Address{}) {
			return clierr.New(clierr.CodeUsage, "token address must not be the zero address")
		}
		if *token == to {
			return clierr.New(clierr.CodeUsage, "recipient must not be the token contract itself")
		}
	}
	if amount == nil || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "transfer amount must be greater than zero")
	}
	return nil
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
