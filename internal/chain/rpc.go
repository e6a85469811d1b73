// Package chain reads EVM block headers over JSON-RPC and resolves wall-clock
// timestamps to block numbers.
package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BlockReader defines the JSON-RPC subset used for block resolution.
type BlockReader interface {
	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (int64, error)

	// BlockByNumber returns the header of a block. Returns ErrBlockNotFound
	// when the node has no such block.
	BlockByNumber(ctx context.Context, number int64) (*Block, error)
}

// Block is the header subset needed to map time to height.
type Block struct {
	Number    int64
	Timestamp int64 // Unix seconds
}

// Time returns the block timestamp as UTC time.
func (b *Block) Time() time.Time {
	return time.Unix(b.Timestamp, 0).UTC()
}

// parseQuantity decodes a 0x-prefixed hex quantity.
func parseQuantity(s string) (int64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q missing 0x prefix", s)
	}
	v, err := strconv.ParseInt(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return v, nil
}

// encodeQuantity encodes n as a 0x-prefixed hex quantity.
func encodeQuantity(n int64) string {
	return "0x" + strconv.FormatInt(n, 16)
}
