package reconcile

import (
	"sort"
	"sync"

	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
)

// Registry tracks markets whose historical data is known to be unreliable.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]struct{}
}

// NewRegistry creates a registry seeded with the given market keys.
func NewRegistry(seed []string) *Registry {
	r := &Registry{markets: make(map[string]struct{}, len(seed))}
	for _, key := range seed {
		if key != "" {
			r.markets[key] = struct{}{}
		}
	}
	observability.SetUnreliableMarkets(len(r.markets))
	return r
}

// IsUnreliable reports whether the market is flagged.
func (r *Registry) IsUnreliable(marketKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[marketKey]
	return ok
}

// MarkUnreliable flags a market. Returns true if it was not flagged before.
func (r *Registry) MarkUnreliable(marketKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[marketKey]; ok {
		return false
	}
	r.markets[marketKey] = struct{}{}
	observability.SetUnreliableMarkets(len(r.markets))
	return true
}

// Clear removes the flag from a market.
func (r *Registry) Clear(marketKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markets, marketKey)
	observability.SetUnreliableMarkets(len(r.markets))
}

// List returns flagged market keys in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.markets))
	for key := range r.markets {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of flagged markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
