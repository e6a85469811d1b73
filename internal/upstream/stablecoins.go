package upstream

import (
	"strings"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
)

// StablecoinTable recognizes USD-pegged assets by address or symbol.
type StablecoinTable struct {
	addresses map[string]struct{}
	symbols   map[string]struct{}
}

// NewStablecoinTable builds a table from addresses and symbols.
func NewStablecoinTable(addresses, symbols []string) *StablecoinTable {
	t := &StablecoinTable{
		addresses: make(map[string]struct{}, len(addresses)),
		symbols:   make(map[string]struct{}, len(symbols)),
	}
	for _, a := range addresses {
		t.addresses[domain.NormalizeAddress(a)] = struct{}{}
	}
	for _, s := range symbols {
		t.symbols[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return t
}

// DefaultStablecoins returns the well-known USD stablecoins.
func DefaultStablecoins() *StablecoinTable {
	return NewStablecoinTable(
		[]string{
			"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", // USDC (ethereum)
			"0xdac17f958d2ee523a2206206994597c13d831ec7", // USDT (ethereum)
			"0x6b175474e89094c44da98b954eedeac495271d0f", // DAI (ethereum)
			"0x40d16fc0246ad3160ccc09b8d0d3a2cd28ae6c2f", // GHO (ethereum)
			"0x853d955acef822db058eb8505911ed77f175b99e", // FRAX (ethereum)
			"0x6c3ea9036406852006290770bedfcaba0e23a0e8", // PYUSD (ethereum)
			"0xaf88d065e77c8cc2239327c5edb3a432268e5831", // USDC (arbitrum)
			"0x0b2c639c533813f4aa9d7837caf62653d097ff85", // USDC (optimism)
			"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", // USDC (polygon)
			"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", // USDC (base)
		},
		[]string{"USDC", "USDT", "DAI", "GHO", "FRAX", "LUSD", "PYUSD", "USDC.E", "USDBC", "SUSD", "TUSD", "USDE"},
	)
}

// IsStable reports whether the asset is a USD stablecoin.
func (t *StablecoinTable) IsStable(address, symbol string) bool {
	if _, ok := t.addresses[domain.NormalizeAddress(address)]; ok {
		return true
	}
	_, ok := t.symbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}
