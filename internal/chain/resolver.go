package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
)

// Resolver defaults.
const (
	DefaultMaxIterations  = 20
	DefaultRequestTimeout = 5 * time.Second
	DefaultResolveTimeout = 30 * time.Second
)

// Endpoint is one named RPC node in the fallback list.
type Endpoint struct {
	Name   string
	Reader BlockReader
}

// ResolverOptions configures Resolver.
type ResolverOptions struct {
	RequestTimeout time.Duration // per RPC call
	MaxIterations  int           // binary search bound
	Logger         zerolog.Logger
}

// Resolver maps wall-clock timestamps to block numbers using an ordered list
// of RPC endpoints.
type Resolver struct {
	endpoints      []Endpoint
	requestTimeout time.Duration
	maxIterations  int
	logger         zerolog.Logger
}

// NewResolver creates a resolver. Endpoints are tried in order.
func NewResolver(endpoints []Endpoint, opts ResolverOptions) *Resolver {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Resolver{
		endpoints:      endpoints,
		requestTimeout: opts.RequestTimeout,
		maxIterations:  opts.MaxIterations,
		logger:         opts.Logger,
	}
}

// ResolveBlock returns the block closest to, and not after, ts. A timestamp
// past the chain head resolves to the head. timeout bounds the whole
// resolution; each endpoint attempt gets an equal share of the remaining
// budget, and on failure the next endpoint is tried. An error is returned only
// when every endpoint failed, wrapping the last failure.
func (r *Resolver) ResolveBlock(ctx context.Context, ts time.Time, timeout time.Duration) (int64, error) {
	if len(r.endpoints) == 0 {
		return 0, errors.New("resolve block: no RPC endpoints configured")
	}
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)
	target := ts.Unix()
	var lastErr error

	for i, ep := range r.endpoints {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			lastErr = fmt.Errorf("%w: budget of %s spent before %s: %w", domain.ErrUpstreamTimeout, timeout, ep.Name, lastErr)
			break
		}

		budget := remaining / time.Duration(len(r.endpoints)-i)
		block, err := r.resolveOn(ctx, ep, target, budget)
		if err == nil {
			observability.RecordBlockResolution(time.Since(start), nil)
			r.logger.Debug().
				Str("endpoint", ep.Name).
				Time("target", ts).
				Int64("block", block).
				Msg("resolved block")
			return block, nil
		}

		lastErr = err
		r.logger.Warn().
			Err(err).
			Str("endpoint", ep.Name).
			Time("target", ts).
			Msg("block resolution failed, trying next endpoint")
	}

	err := fmt.Errorf("resolve block at %s: all %d endpoints failed: %w", ts.UTC().Format(time.RFC3339), len(r.endpoints), lastErr)
	observability.RecordBlockResolution(time.Since(start), err)
	return 0, err
}

func (r *Resolver) resolveOn(ctx context.Context, ep Endpoint, target int64, timeout time.Duration) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	latestNum, err := r.blockNumber(attemptCtx, ep.Reader)
	if err != nil {
		return 0, r.wrap(attemptCtx, ep, "latest block number", err)
	}
	latest, err := r.blockByNumber(attemptCtx, ep.Reader, latestNum)
	if err != nil {
		return 0, r.wrap(attemptCtx, ep, "latest block", err)
	}
	if target > latest.Timestamp {
		return latest.Number, nil
	}

	low, high := int64(0), latest.Number
	for i := 0; i < r.maxIterations && low <= high; i++ {
		if err := attemptCtx.Err(); err != nil {
			return 0, r.wrap(attemptCtx, ep, fmt.Sprintf("binary search iteration %d", i), err)
		}

		mid := low + (high-low)/2
		block, err := r.blockByNumber(attemptCtx, ep.Reader, mid)
		if err != nil {
			return 0, r.wrap(attemptCtx, ep, fmt.Sprintf("block %d", mid), err)
		}

		switch {
		case block.Timestamp == target:
			return mid, nil
		case block.Timestamp < target:
			low = mid + 1
		default:
			high = mid - 1
		}
	}

	if high < 0 {
		high = 0
	}
	return high, nil
}

func (r *Resolver) blockNumber(ctx context.Context, reader BlockReader) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()
	return reader.BlockNumber(reqCtx)
}

func (r *Resolver) blockByNumber(ctx context.Context, reader BlockReader, n int64) (*Block, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()
	return reader.BlockByNumber(reqCtx, n)
}

// wrap tags deadline failures with ErrUpstreamTimeout.
func (r *Resolver) wrap(ctx context.Context, ep Endpoint, what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %s: %w: %v", ep.Name, what, domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %s: %w", ep.Name, what, err)
}
