package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

var (
	baseUnitsPattern = regexp.MustCompile(`^[0-9]+$`)
	decimalPattern   = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// NormalizeAmount accepts exactly one of a base-unit integer or a decimal
// amount and returns both forms.
func NormalizeAmount(baseUnits, decimal string, decimals int) (string, string, error) {
	baseUnits, decimal = strings.TrimSpace(baseUnits), strings.TrimSpace(decimal)
	switch {
	case baseUnits != "" && decimal != "":
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	case baseUnits == "" && decimal == "":
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	case decimals < 0:
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		if !baseUnitsPattern.MatchString(baseUnits) {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be a non-negative integer in base units")
		}
		n, _ := new(big.Int).SetString(baseUnits, 10)
		return n.String(), FormatUnits(n, decimals), nil
	}

	n, err := ParseUnits(decimal, decimals)
	if err != nil {
		return "", "", err
	}
	return n.String(), FormatUnits(n, decimals), nil
}

// ParseUnits converts a decimal string such as "1.25" into base units.
func ParseUnits(decimal string, decimals int) (*big.Int, error) {
	if !decimalPattern.MatchString(decimal) {
		return nil, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	if _, frac, ok := strings.Cut(decimal, "."); ok && len(strings.TrimRight(frac, "0")) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	r, ok := new(big.Rat).SetString(decimal)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	r.Mul(r, new(big.Rat).SetInt(pow10(decimals)))
	return new(big.Int).Set(r.Num()), nil
}

// FormatUnits renders base units as a trimmed decimal string.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals <= 0 {
		return v.String()
	}
	s := new(big.Rat).SetFrac(v, pow10(decimals)).FloatString(decimals)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	if s == "" || s == "-0" {
		return "0"
	}
	return s
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
