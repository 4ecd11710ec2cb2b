package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	eip155AssetPattern = regexp.MustCompile(`^eip155:[0-9]+/erc20:0x[0-9a-fA-F]{40}$`)
)

type Chain struct {
	Name         string
	Slug         string
	CAIP2        string
	EVMChainID   int64
	NativeSymbol string
}

type Asset struct {
	ChainID  string
	AssetID  string
	Address  string
	Symbol   string
	Name     string
	Decimals int
}

type Token struct {
	Symbol   string
	Name     string
	Address  string
	Decimals int
}

var chainBySlug = map[string]Chain{
	"ethereum": {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	"mainnet":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	"optimism": {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	"op":       {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	"base":     {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH"},
	"sepolia":  {Name: "Sepolia", Slug: "sepolia", CAIP2: "eip155:11155111", EVMChainID: 11155111, NativeSymbol: "ETH"},
}

var chainByID = map[int64]Chain{
	1:        chainBySlug["ethereum"],
	10:       chainBySlug["optimism"],
	8453:     chainBySlug["base"],
	11155111: chainBySlug["sepolia"],
}

// Popular tokens per chain. Balances are read for every entry.
var tokenRegistry = map[string][]Token{
	"eip155:1": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Name: "Tether USD", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Name: "Dai Stablecoin", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Name: "Wrapped Ether", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	"eip155:10": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDC.e", Name: "Bridged USD Coin", Address: "0x7F5c764cBc14f9669B88837ca1490cCa17c31607", Decimals: 6},
		{Symbol: "USDT", Name: "Tether USD", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Name: "Dai Stablecoin", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Name: "Wrapped Ether", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "OP", Name: "Optimism", Address: "0x4200000000000000000000000000000000000042", Decimals: 18},
	},
	"eip155:8453": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Name: "Dai Stablecoin", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Name: "Wrapped Ether", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:11155111": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Decimals: 6},
		{Symbol: "WETH", Name: "Wrapped Ether", Address: "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14", Decimals: 18},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		parts := strings.Split(norm, ":")
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		return ChainByID(id), nil
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		return ChainByID(id), nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ChainByID returns the known chain or a generic EVM placeholder.
// Support for a chain is decided by the registry, not here.
func ChainByID(id int64) Chain {
	if known, ok := chainByID[id]; ok {
		return known
	}
	return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id, NativeSymbol: "ETH"}
}

func IsAddress(input string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(input))
}

func ParseAddress(input, field string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", clierr.New(clierr.CodeUsage, field+" is required")
	}
	if !evmAddressPattern.MatchString(raw) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 0x-prefixed 20-byte hex address", field))
	}
	return raw, nil
}

func ParseAsset(input string, chain Chain) (Asset, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Asset{}, clierr.New(clierr.CodeUsage, "asset is required")
	}

	if strings.Contains(raw, "/") {
		if !eip155AssetPattern.MatchString(raw) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		parts := strings.SplitN(raw, "/", 2)
		if parts[0] != chain.CAIP2 {
			return Asset{}, clierr.New(clierr.CodeUsage, "asset chain does not match --chain")
		}
		address := strings.TrimPrefix(parts[1], "erc20:")
		return assetForAddress(chain, address), nil
	}

	if evmAddressPattern.MatchString(raw) {
		return assetForAddress(chain, raw), nil
	}

	matches := findTokensBySymbol(chain.CAIP2, raw)
	if len(matches) == 0 {
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address or CAIP-19 (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	t := matches[0]
	addr := strings.ToLower(t.Address)
	return Asset{
		ChainID:  chain.CAIP2,
		AssetID:  canonicalAssetID(chain.CAIP2, addr),
		Address:  addr,
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: t.Decimals,
	}, nil
}

func assetForAddress(chain Chain, address string) Asset {
	addr := strings.ToLower(strings.TrimSpace(address))
	token, _ := LookupByAddress(chain.CAIP2, addr)
	return Asset{ChainID: chain.CAIP2, AssetID: canonicalAssetID(chain.CAIP2, addr), Address: addr, Symbol: token.Symbol, Name: token.Name, Decimals: token.Decimals}
}

func canonicalAssetID(chainID, address string) string {
	return fmt.Sprintf("%s/erc20:%s", chainID, strings.ToLower(strings.TrimSpace(address)))
}

func findTokensBySymbol(chainID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, t)
		}
	}
	return matches
}

// Tokens returns the popular token list for a CAIP-2 chain id.
func Tokens(chainID string) []Token {
	src := tokenRegistry[chainID]
	out := make([]Token, len(src))
	copy(out, src)
	return out
}

func LookupByAddress(chainID, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return t, true
		}
	}
	return Token{}, false
}
