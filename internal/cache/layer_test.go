package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLayer(clock *fakeClock) *Layer {
	return NewLayer(Options{
		Store:      NewMemoryStore(),
		DefaultTTL: time.Minute,
		Retry: RetryOptions{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
		Clock: clock.Now,
	})
}

func TestLayer_GetSet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newTestLayer(clock)
	ctx := context.Background()

	if err := l.Set(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got map[string]int
	lookup, err := l.Get(ctx, "k", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !lookup.Found || !lookup.Fresh {
		t.Errorf("expected fresh hit, got %+v", lookup)
	}
	if got["a"] != 1 {
		t.Errorf("expected a=1, got %v", got)
	}

	clock.Advance(2 * time.Minute)
	lookup, _ = l.Get(ctx, "k", &got)
	if !lookup.Found || lookup.Fresh {
		t.Errorf("expected stale hit after TTL, got %+v", lookup)
	}

	lookup, _ = l.Get(ctx, "missing", &got)
	if lookup.Found {
		t.Error("expected miss for unknown key")
	}
}

func TestFetch_FreshHitSkipsUpstream(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newTestLayer(clock)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return fmt.Sprintf("v%d", calls), nil
	}

	r1, err := Fetch(ctx, l, "k", time.Minute, fn)
	if err != nil || r1.Value != "v1" {
		t.Fatalf("first fetch: %v %+v", err, r1)
	}
	r2, err := Fetch(ctx, l, "k", time.Minute, fn)
	if err != nil || r2.Value != "v1" {
		t.Fatalf("second fetch: %v %+v", err, r2)
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}

	clock.Advance(time.Minute)
	r3, err := Fetch(ctx, l, "k", time.Minute, fn)
	if err != nil || r3.Value != "v2" {
		t.Fatalf("fetch after expiry: %v %+v", err, r3)
	}
}

func TestFetch_StaleOnError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newTestLayer(clock)
	ctx := context.Background()

	if _, err := Fetch(ctx, l, "k", time.Minute, func(context.Context) (int, error) { return 42, nil }); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	clock.Advance(24 * time.Hour)
	attempts := 0
	res, err := Fetch(ctx, l, "k", time.Minute, func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("upstream down")
	})
	if err != nil {
		t.Fatalf("expected stale value, got error %v", err)
	}
	if !res.Stale || res.Value != 42 {
		t.Errorf("expected stale 42, got %+v", res)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts before falling back, got %d", attempts)
	}
}

func TestFetch_ErrorWithoutCachedValue(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := newTestLayer(clock)

	upstreamErr := errors.New("upstream down")
	_, err := Fetch(context.Background(), l, "never", time.Minute, func(context.Context) (int, error) {
		return 0, upstreamErr
	})
	if !errors.Is(err, upstreamErr) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestWithRetry_OnRetryAndSuccess(t *testing.T) {
	l := newTestLayer(&fakeClock{now: time.Now()})

	var retried []int
	calls := 0
	err := l.WithRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, RetryOptions{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		OnRetry:         func(attempt int, _ error) { retried = append(retried, attempt) },
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", retried)
	}
}

func TestWithRetry_PermanentErrorNotRetried(t *testing.T) {
	l := newTestLayer(&fakeClock{now: time.Now()})

	calls := 0
	err := l.WithRetry(context.Background(), func(context.Context) error {
		calls++
		return &domain.SchemaError{Source: "live", Field: "reserves"}
	}, RetryOptions{MaxAttempts: 5, InitialInterval: time.Millisecond})

	if !errors.Is(err, domain.ErrUpstreamSchemaMismatch) {
		t.Errorf("expected schema mismatch, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "k", Entry{Value: []byte("abc"), TTL: time.Minute})
	e, _ := s.Get(ctx, "k")
	e.Value[0] = 'z'

	again, _ := s.Get(ctx, "k")
	if string(again.Value) != "abc" {
		t.Errorf("expected stored value to be unchanged, got %s", again.Value)
	}

	s.Delete(ctx, "k")
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}
