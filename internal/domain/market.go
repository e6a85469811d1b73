package domain

import "strings"

// HistoricalSource describes how far the historical indexer of a market can be trusted.
type HistoricalSource string

const (
	HistoricalTrusted   HistoricalSource = "trusted"
	HistoricalUntrusted HistoricalSource = "untrusted"
	HistoricalNone      HistoricalSource = "none"
)

// String returns the string representation of HistoricalSource.
func (s HistoricalSource) String() string {
	return string(s)
}

// IsValid checks if the historical source is a valid value.
func (s HistoricalSource) IsValid() bool {
	return s == HistoricalTrusted || s == HistoricalUntrusted || s == HistoricalNone
}

// Market identifies one lending pool deployment.
// Immutable after configuration load.
type Market struct {
	Key              string           // stable identifier, e.g. "ethereum-core"
	Name             string           // display name
	PoolAddress      string           // on-chain pool contract address (lowercase)
	ChainID          int64            // EVM chain id
	HistoricalSource HistoricalSource // trusted | untrusted | none
}

// NormalizeAddress lowercases and trims an address so it can be used as a key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
