package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by adapters, collectors and the orchestrator.
var (
	// ErrUpstreamTimeout is returned when an upstream call exceeds its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamSchemaMismatch is returned when a required upstream field is missing.
	ErrUpstreamSchemaMismatch = errors.New("upstream schema mismatch")

	// ErrPoolNotFound is returned when the indexer has no entity for a pool address.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrInsufficientData is returned when fewer than 2 valid points are available.
	ErrInsufficientData = errors.New("insufficient data for interpolation")

	// ErrReconciliationMismatch marks a market whose sources disagree. Non-fatal.
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")

	// ErrPersistenceWrite wraps store write failures.
	ErrPersistenceWrite = errors.New("persistence write failed")
)

// SchemaError names the upstream field that failed validation.
type SchemaError struct {
	Source string // upstream name, e.g. "live" or "historical"
	Field  string // dotted path of the missing or malformed field
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s: field %s missing", ErrUpstreamSchemaMismatch, e.Source, e.Field)
	}
	return fmt.Sprintf("%s: %s: field %s %s", ErrUpstreamSchemaMismatch, e.Source, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrUpstreamSchemaMismatch.
func (e *SchemaError) Unwrap() error {
	return ErrUpstreamSchemaMismatch
}
