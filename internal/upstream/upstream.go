// Package upstream maps the live market API and the block-scoped historical
// indexer into canonical reserve records.
package upstream

import (
	"context"
	"fmt"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// Querier executes GraphQL queries. Implemented by graphql.Client.
type Querier interface {
	Query(ctx context.Context, operation, query string, vars map[string]interface{}, out interface{}) error
}

// fieldReader collects the first schema violation while decoding one record.
type fieldReader struct {
	source string
	path   string
	err    error
}

func (r *fieldReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &domain.SchemaError{Source: r.source, Field: r.path + "." + field, Reason: reason}
	}
}

// str returns a required string field.
func (r *fieldReader) str(field string, v *string) string {
	if v == nil || *v == "" {
		r.fail(field, "")
		return ""
	}
	return *v
}

// decimal parses a required decimal string field.
func (r *fieldReader) decimal(field string, v *string) numeric.Value {
	s := r.str(field, v)
	if s == "" {
		return numeric.Zero()
	}
	d, err := numeric.Parse(s)
	if err != nil {
		r.fail(field, fmt.Sprintf("malformed (%q)", s))
		return numeric.Zero()
	}
	return d
}

// scaled parses a required on-chain integer field and divides it by 10^decimals.
func (r *fieldReader) scaled(field string, v *string, decimals int32) numeric.Value {
	s := r.str(field, v)
	if s == "" {
		return numeric.Zero()
	}
	d, err := numeric.FromScaled(s, decimals)
	if err != nil {
		r.fail(field, fmt.Sprintf("malformed (%q)", s))
		return numeric.Zero()
	}
	return d
}

// integer reads a required integer field.
func (r *fieldReader) integer(field string, v *int32) int32 {
	if v == nil {
		r.fail(field, "")
		return 0
	}
	return *v
}
