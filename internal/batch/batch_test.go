package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_SettlesAll(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	boom := errors.New("boom")

	out := Run(context.Background(), items, Options{Size: 2, Delay: -1}, func(ctx context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n * 10, nil
	})

	if len(out) != len(items) {
		t.Fatalf("expected %d outcomes, got %d", len(items), len(out))
	}
	for i, o := range out {
		if o.Item != items[i] {
			t.Errorf("outcome %d: expected item %d, got %d", i, items[i], o.Item)
		}
		if o.Item == 3 {
			if !errors.Is(o.Err, boom) {
				t.Errorf("expected boom for item 3, got %v", o.Err)
			}
			continue
		}
		if o.Err != nil || o.Result != o.Item*10 {
			t.Errorf("item %d: unexpected outcome %+v", o.Item, o)
		}
	}

	ok, failed := Count(out)
	if ok != 4 || failed != 1 {
		t.Errorf("expected 4 ok / 1 failed, got %d / %d", ok, failed)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	items := make([]int, 9)
	var (
		mu      sync.Mutex
		current int
		peak    int
	)

	Run(context.Background(), items, Options{Size: 3, Delay: -1}, func(ctx context.Context, _ int) (struct{}, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return struct{}{}, nil
	})

	if peak > 3 {
		t.Errorf("expected at most 3 concurrent calls, got %d", peak)
	}
}

func TestRun_DelayBetweenBatches(t *testing.T) {
	items := []int{1, 2, 3}
	start := time.Now()

	Run(context.Background(), items, Options{Size: 1, Delay: 20 * time.Millisecond}, func(ctx context.Context, n int) (int, error) {
		return n, nil
	})

	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected at least two delays, took %v", elapsed)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	out := Run(ctx, []int{1, 2, 3, 4}, Options{Size: 2, Delay: -1}, func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		if n == 2 {
			cancel()
		}
		return n, nil
	})

	if got := calls.Load(); got != 2 {
		t.Errorf("expected only the first batch to run, got %d calls", got)
	}
	for _, o := range out[2:] {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("item %d: expected context.Canceled, got %v", o.Item, o.Err)
		}
	}
}
