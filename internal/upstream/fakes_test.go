package upstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/cache"
)

type fakeQuerier struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	lastVars  map[string]map[string]interface{}
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		responses: make(map[string]string),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
		lastVars:  make(map[string]map[string]interface{}),
	}
}

func (f *fakeQuerier) Query(_ context.Context, operation, _ string, vars map[string]interface{}, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[operation]++
	f.lastVars[operation] = vars
	if err := f.errs[operation]; err != nil {
		return err
	}
	return json.Unmarshal([]byte(f.responses[operation]), out)
}

func (f *fakeQuerier) callCount(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[operation]
}

type fakeResolver struct {
	block   int64
	err     error
	targets []time.Time
}

func (r *fakeResolver) ResolveBlock(_ context.Context, ts time.Time, _ time.Duration) (int64, error) {
	r.targets = append(r.targets, ts)
	return r.block, r.err
}

func testCache(clock func() time.Time) *cache.Layer {
	return cache.NewLayer(cache.Options{
		Retry: cache.RetryOptions{MaxAttempts: 1, InitialInterval: time.Millisecond},
		Clock: clock,
	})
}
