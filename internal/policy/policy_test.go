package policy

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "transfer"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"account  address"}, "Account address"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	err := CheckCommandAllowed([]string{"history"}, "transfer")
	if !clierr.IsCode(err, clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestValidateTransfer(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	token := common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	zero := common.Address{}
	tests := []struct {
		name   string
		to     common.Address
		token  *common.Address
		amount *big.Int
		ok     bool
	}{
		{name: "native", to: recipient, amount: big.NewInt(1), ok: true},
		{name: "erc20", to: recipient, token: &token, amount: big.NewInt(1), ok: true},
		{name: "zero recipient", to: zero, amount: big.NewInt(1)},
		{name: "entry point", to: common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"), amount: big.NewInt(1)},
		{name: "token as recipient", to: token, token: &token, amount: big.NewInt(1)},
		{name: "zero token", to: recipient, token: &zero, amount: big.NewInt(1)},
		{name: "zero amount", to: recipient, amount: big.NewInt(0)},
		{name: "nil amount", to: recipient},
	}
	for _, tc := range tests {
		err := ValidateTransfer(tc.to, tc.token, tc.amount)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !clierr.IsCode(err, clierr.CodeUsage) {
			t.Fatalf("%s: expected usage error, got %v", tc.name, err)
		}
	}
}
