// Package convert defines the converter capability: a stateful engine bound
// to exactly one schema that parses raw byte streams into typed records.
// Converter kinds register factories into the package registry; the bridge
// resolves one configuration at startup, builds one Converter, and reuses it
// for every unit of work until shutdown.
//
// Record values use a fixed Go representation per field type:
//
//	string    -> string
//	int       -> int64
//	float     -> float64
//	bool      -> bool
//	timestamp -> time.Time
//	date      -> time.Time
//	point     -> schema.Point
//	json      -> interface{} (decoded value or raw string)
//	binary    -> []byte
//
// Sink backends rely on this mapping when populating slots.
package convert

import (
	"context"
	"io"

	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
)

// EvalContext carries per-invocation metadata into a parse. A fresh context
// is created for every unit of work; converters use it for diagnostics and
// provenance annotation, never for cross-invocation state.
type EvalContext struct {
	// Provenance identifies the unit of work (path + filename)
	Provenance string
}

// Converter parses byte streams into records conforming to its schema.
// A converter is built once at startup and reused across invocations; it
// must be safe to call Parse repeatedly, one stream at a time.
type Converter interface {
	// Schema returns the schema this converter is bound to
	Schema() *schema.Schema

	// NewContext creates the per-invocation evaluation context
	NewContext(provenance string) *EvalContext

	// Parse consumes the byte stream lazily, yielding records in input
	// order. The returned iterator is finite, forward-only and single-use.
	Parse(ctx context.Context, r io.Reader, ec *EvalContext) (RecordIterator, error)
}

// RecordIterator is a lazy, non-restartable sequence of typed records.
//
// Usage follows the scanner idiom:
//
//	it, err := conv.Parse(ctx, stream, ec)
//	...
//	defer it.Close()
//	for it.Next() {
//	    rec := it.Record()
//	    // commit rec, then rec.Release()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Records returned by Record are owned by the caller, which releases them
// back to the pool after committing. Close releases any record that was
// produced but never handed out.
type RecordIterator interface {
	// Next advances to the next record, returning false at end of stream
	// or on the first fault.
	Next() bool

	// Record returns the current record. Only valid after a true Next.
	Record() *pool.Record

	// Err returns the fault that stopped iteration, or nil at clean EOF.
	Err() error

	// Close releases iterator resources. Safe to call more than once; it
	// never closes the underlying stream, which the caller owns.
	Close() error
}

// Factory builds a live converter of one kind, bound to the given schema.
type Factory func(s *schema.Schema, cfg *Config) (Converter, error)
