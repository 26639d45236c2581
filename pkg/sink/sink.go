// Package sink defines the storage backend capability: long-lived
// connections to an external store, idempotent schema provisioning, and
// writer handles that append one record per commit.
//
// One backend serves one processor lifetime. The handle owns the bottleneck
// resource, so callers serialize commits; a fault on one commit leaves the
// handle usable for the next unit of work.
package sink

import (
	"context"
	"time"

	"github.com/geobridge/geobridge/pkg/config"
	"github.com/geobridge/geobridge/pkg/schema"
)

// ConnectParams carries everything a backend needs to establish its
// connection. Built once from the runtime config at startup.
type ConnectParams struct {
	// Endpoints lists broker or server addresses
	Endpoints []string
	// Instance names the database, cluster, or store instance
	Instance string
	// Namespace prefixes provisioned tables and topics
	Namespace string
	// Credentials holds backend specific secrets (connection_string,
	// username, password)
	Credentials map[string]string
	// MaxConns and MinConns bound pooled backends
	MaxConns int32
	MinConns int32
	// Acks, Retries and Compression tune producer style backends
	Acks        string
	Retries     int
	Compression string
	// EnableTLS and TLSSkipVerify control transport security
	EnableTLS     bool
	TLSSkipVerify bool
	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration
	// RequestTimeout bounds individual commits
	RequestTimeout time.Duration
}

// ParamsFromConfig maps the runtime configuration onto connect parameters.
func ParamsFromConfig(cfg *config.Config) ConnectParams {
	return ConnectParams{
		Endpoints:      cfg.Sink.Endpoints,
		Instance:       cfg.Sink.Instance,
		Namespace:      cfg.Sink.Namespace,
		Credentials:    cfg.Sink.Credentials,
		MaxConns:       cfg.Sink.MaxConns,
		MinConns:       cfg.Sink.MinConns,
		Acks:           cfg.Sink.ProducerAcks,
		Retries:        cfg.Sink.ProducerRetries,
		Compression:    cfg.Sink.ProducerCompression,
		EnableTLS:      cfg.Sink.EnableTLS,
		TLSSkipVerify:  cfg.Sink.TLSSkipVerify,
		ConnectTimeout: cfg.Timeouts.Connection,
		RequestTimeout: cfg.Timeouts.Request,
	}
}

// Backend is a sink implementation. Backends are stateless factories for
// connections; registration happens in each backend package's init.
type Backend interface {
	// Name returns the registry name
	Name() string

	// Connect establishes the long-lived connection. Unreachable endpoints
	// and bad credentials surface as connection errors.
	Connect(ctx context.Context, params ConnectParams) (Conn, error)
}

// Conn is an established backend connection.
type Conn interface {
	// EnsureSchema provisions storage for the schema. Idempotent: an
	// existing compatible schema is a no-op, an existing incompatible one
	// is a schema conflict error, never a silent redefinition.
	EnsureSchema(ctx context.Context, s *schema.Schema) error

	// OpenWriter opens the append handle for one type name
	OpenWriter(ctx context.Context, typeName string) (WriterHandle, error)

	// Close releases the connection
	Close() error
}

// WriterHandle appends records one commit at a time. Handles are not safe
// for concurrent use; the bridge serializes access.
type WriterHandle interface {
	// NewSlot returns an empty slot to populate
	NewSlot() Slot

	// Commit durably appends the populated slot. Each commit stands alone:
	// earlier commits survive a later fault.
	Commit(ctx context.Context, slot Slot) error

	// Close flushes and releases the handle. Safe to call more than once.
	Close() error
}

// Slot stages one record between population and commit.
type Slot interface {
	SetID(id string)
	SetValues(values []interface{})
	SetMetadata(md map[string]string)
}

// RecordSlot is the slot implementation shared by the built-in backends.
type RecordSlot struct {
	ID       string
	Values   []interface{}
	Metadata map[string]string
}

func (s *RecordSlot) SetID(id string)                  { s.ID = id }
func (s *RecordSlot) SetValues(values []interface{})   { s.Values = values }
func (s *RecordSlot) SetMetadata(md map[string]string) { s.Metadata = md }
