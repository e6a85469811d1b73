// Package graphql is the HTTP transport shared by the live and historical
// upstream adapters.
package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout         = 20 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// ErrCircuitOpen is returned while the endpoint breaker rejects calls.
var ErrCircuitOpen = errors.New("graphql circuit open")

// Options configures Client.
type Options struct {
	Name            string // metric and breaker label, e.g. "live" or "historical-1"
	Endpoint        string
	Timeout         time.Duration
	Headers         map[string]string
	BreakerFailures uint32        // consecutive failures before the breaker opens
	BreakerCooldown time.Duration // open state duration before a half-open probe
	Logger          zerolog.Logger
}

// Client posts GraphQL queries to one endpoint through a circuit breaker.
type Client struct {
	name     string
	endpoint string
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = DefaultBreakerCooldown
	}
	if opts.Name == "" {
		opts.Name = opts.Endpoint
	}

	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for k, v := range opts.Headers {
		httpClient.SetHeader(k, v)
	}

	logger := opts.Logger
	failures := opts.BreakerFailures
	st := gobreaker.Settings{
		Name:     opts.Name,
		Interval: 60 * time.Second,
		Timeout:  opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// GraphQL error payloads mean the endpoint is up.
		IsSuccessful: func(err error) bool {
			var gqlErr *Error
			return err == nil || errors.As(err, &gqlErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &Client{
		name:     opts.Name,
		endpoint: opts.Endpoint,
		http:     httpClient,
		breaker:  gobreaker.NewCircuitBreaker(st),
		logger:   opts.Logger,
	}
}

// Name returns the client label.
func (c *Client) Name() string {
	return c.name
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ErrorEntry    `json:"errors"`
}

// ErrorEntry is one element of a GraphQL errors array.
type ErrorEntry struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// Error is returned when the server answers with a non-empty errors array.
type Error struct {
	Endpoint string
	Entries  []ErrorEntry
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Entries))
	for i, entry := range e.Entries {
		msgs[i] = entry.Message
	}
	return fmt.Sprintf("graphql %s: %s", e.Endpoint, strings.Join(msgs, "; "))
}

// Query executes a query and decodes its data object into out. operation
// labels the call in metrics and logs.
func (c *Client) Query(ctx context.Context, operation, query string, vars map[string]interface{}, out interface{}) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, query, vars, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	observability.RecordUpstreamCall(c.name, operation, time.Since(start), err)
	if err != nil {
		c.logger.Debug().Err(err).Str("operation", operation).Msg("graphql query failed")
	}
	return err
}

func (c *Client) do(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	var body response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{Query: query, Variables: vars}).
		SetResult(&body).
		SetError(&body).
		Post(c.endpoint)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%s: %w: %v", c.name, domain.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%s: post: %w", c.name, err)
	}

	if len(body.Errors) > 0 {
		return &Error{Endpoint: c.name, Entries: body.Errors}
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", c.name, resp.StatusCode())
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return &domain.SchemaError{Source: c.name, Field: "data"}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", c.name, err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
