package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
)

// Default configuration values.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// RetryOptions bounds WithRetry.
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnRetry is called before each new attempt with the attempt number
	// that just failed (1-based) and its error.
	OnRetry func(attempt int, err error)
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = DefaultInitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	return o
}

// Options configures Layer.
type Options struct {
	Store      Store
	DefaultTTL time.Duration
	Retry      RetryOptions
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Layer is the cache service injected into adapters.
type Layer struct {
	store      Store
	defaultTTL time.Duration
	retry      RetryOptions
	logger     zerolog.Logger
	now        func() time.Time
}

// NewLayer creates a Layer. A nil store defaults to a new MemoryStore.
func NewLayer(opts Options) *Layer {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Layer{
		store:      opts.Store,
		defaultTTL: opts.DefaultTTL,
		retry:      opts.Retry.withDefaults(),
		logger:     opts.Logger,
		now:        opts.Clock,
	}
}

// Lookup describes a Get result.
type Lookup struct {
	Found    bool
	Fresh    bool
	StoredAt time.Time
}

// Get decodes the cached value for key into out. Stale values are decoded
// too; check Lookup.Fresh.
func (l *Layer) Get(ctx context.Context, key string, out interface{}) (Lookup, error) {
	e, err := l.store.Get(ctx, key)
	if err != nil {
		return Lookup{}, err
	}
	if e == nil {
		return Lookup{}, nil
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return Lookup{}, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return Lookup{Found: true, Fresh: e.Fresh(l.now()), StoredAt: e.StoredAt}, nil
}

// Set stores value under key for ttl. A zero ttl uses the layer default.
func (l *Layer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return l.store.Set(ctx, key, Entry{Value: data, StoredAt: l.now(), TTL: ttl})
}

// Delete removes key.
func (l *Layer) Delete(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// RetryOptions returns the layer's default retry bounds.
func (l *Layer) RetryOptions() RetryOptions {
	return l.retry
}

// WithRetry runs fn until it succeeds, returns a permanent error, the context
// ends, or opts.MaxAttempts attempts have failed. Schema mismatches and
// missing pools are permanent.
func (l *Layer) WithRetry(ctx context.Context, fn func(ctx context.Context) error, opts RetryOptions) error {
	opts = opts.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialInterval
	eb.MaxInterval = opts.MaxInterval
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(opts.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordCacheRetry()
		l.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying upstream call")
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
	}
	return backoff.RetryNotify(op, b, notify)
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrUpstreamSchemaMismatch) ||
		errors.Is(err, domain.ErrPoolNotFound) ||
		errors.Is(err, context.Canceled)
}

// Result is the outcome of Fetch.
type Result[T any] struct {
	Value     T
	Stale     bool      // served from an expired entry after a failed refresh
	FetchedAt time.Time // when Value was obtained from upstream
}

// Fetch returns the cached value under key when fresh. Otherwise it calls fn
// with retries and caches the result. When every attempt fails, the last
// cached value is served regardless of age; the error is returned only when
// nothing was ever cached.
func Fetch[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (Result[T], error) {
	var cached T
	lookup, err := l.Get(ctx, key, &cached)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		lookup = Lookup{}
	}

	if lookup.Found && lookup.Fresh {
		observability.RecordCacheResult("hit")
		return Result[T]{Value: cached, FetchedAt: lookup.StoredAt}, nil
	}

	var fresh T
	fetchErr := l.WithRetry(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		fresh = v
		return nil
	}, l.retry)

	if fetchErr == nil {
		observability.RecordCacheResult("miss")
		if err := l.Set(ctx, key, fresh, ttl); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
		return Result[T]{Value: fresh, FetchedAt: l.now()}, nil
	}

	if lookup.Found {
		observability.RecordCacheResult("stale")
		l.logger.Warn().
			Err(fetchErr).
			Str("key", key).
			Time("stored_at", lookup.StoredAt).
			Msg("refresh failed, serving stale value")
		return Result[T]{Value: cached, Stale: true, FetchedAt: lookup.StoredAt}, nil
	}

	observability.RecordCacheResult("error")
	var zero T
	return Result[T]{Value: zero}, fetchErr
}
