// Package bridge implements the record-ingestion bridge: a lifecycle-managed
// processor that turns host-delivered units of work into committed sink
// records through a schema-bound converter.
//
// The processor owns one converter, one backend connection and one writer
// handle for its active lifetime. Hosts drive it through three calls:
//
//	proc := bridge.NewProcessor(cfg)
//	if err := proc.Start(ctx); err != nil { ... }
//	outcome := proc.Invoke(ctx, unit)
//	_ = proc.Stop(ctx)
//
// Startup failures are fatal and leave the processor stopped. Faults inside
// one unit of work downgrade to a FAILED outcome and never tear down the
// shared handle; records committed before the fault stay committed.
package bridge

import (
	"io"
	"time"
)

// Attribute keys recognized on units of work.
const (
	// AttrPath is the directory or prefix part of the unit's origin
	AttrPath = "path"
	// AttrFilename is the file part of the unit's origin, also used for
	// compression sniffing
	AttrFilename = "filename"
)

// UnitOfWork is one invocation's input: an opaque byte stream plus the
// attributes describing where it came from. The pipeline opens the stream
// once and closes it on every exit path.
type UnitOfWork struct {
	// Attributes carries host-supplied unit metadata
	Attributes map[string]string

	// Open yields the unit's byte stream. Nil marks an empty unit.
	Open func() (io.ReadCloser, error)
}

// Empty reports whether the unit carries no stream at all.
func (u *UnitOfWork) Empty() bool {
	return u == nil || u.Open == nil
}

// Provenance derives the unit identity string: the path and filename
// attributes concatenated, with missing attributes contributing nothing.
func (u *UnitOfWork) Provenance() string {
	if u == nil {
		return ""
	}
	return u.Attributes[AttrPath] + u.Attributes[AttrFilename]
}

// Filename returns the filename attribute, or an empty string.
func (u *UnitOfWork) Filename() string {
	if u == nil {
		return ""
	}
	return u.Attributes[AttrFilename]
}

// Status classifies one invocation's terminal outcome.
type Status string

const (
	// StatusSucceeded means every record in the unit was committed
	StatusSucceeded Status = "succeeded"

	// StatusFailed means a fault stopped the unit early. Records committed
	// before the fault remain durable.
	StatusFailed Status = "failed"

	// StatusNoOp means the unit was absent or empty and nothing ran
	StatusNoOp Status = "noop"
)

// Outcome reports the result of one invocation to the host. Failed units
// carry the typed fault so the host can route, park or retry them.
type Outcome struct {
	// Status is the terminal classification
	Status Status
	// Records counts commits that became durable, including those made
	// before a fault
	Records int64
	// Provenance identifies the unit of work
	Provenance string
	// Err is the typed fault for failed units, nil otherwise
	Err error
	// Duration is the invocation wall time
	Duration time.Duration
}
