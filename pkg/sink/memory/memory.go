// Package memory implements the in-memory sink backend. It is the default
// backend and the observation point for tests: stores are addressable by
// instance name, rows are inspectable, and connect, ensure and commit
// failures can be injected.
package memory

import (
	"context"
	"sync"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
)

func init() {
	if err := sink.Register("memory", func() sink.Backend { return &Backend{} }); err != nil {
		panic(err)
	}
}

// Row is one committed record.
type Row struct {
	ID       string
	Values   []interface{}
	Metadata map[string]string
}

// Store is a named in-memory table set shared by every connection opened
// against the same instance name.
type Store struct {
	mu        sync.Mutex
	schemas   map[string]*schema.Schema
	tables    map[string][]Row
	commits   int
	handles   int
	connErr   error
	ensure    error
	commitAt  int
	commitErr error
}

var (
	storesMu sync.Mutex
	stores   = make(map[string]*Store)
)

// StoreNamed returns the store for an instance name, creating it on first
// use. The empty name maps to "default".
func StoreNamed(name string) *Store {
	if name == "" {
		name = "default"
	}
	storesMu.Lock()
	defer storesMu.Unlock()

	st, ok := stores[name]
	if !ok {
		st = &Store{
			schemas: make(map[string]*schema.Schema),
			tables:  make(map[string][]Row),
		}
		stores[name] = st
	}
	return st
}

// Reset drops all rows, schemas and injected failures.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas = make(map[string]*schema.Schema)
	s.tables = make(map[string][]Row)
	s.commits = 0
	s.handles = 0
	s.connErr = nil
	s.ensure = nil
	s.commitAt = 0
	s.commitErr = nil
}

// FailConnect makes the next connections fail with err.
func (s *Store) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connErr = err
}

// FailEnsure makes EnsureSchema fail with err.
func (s *Store) FailEnsure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure = err
}

// FailCommit makes the nth commit attempt fail, counting from 1. Attempts
// before and after succeed.
func (s *Store) FailCommit(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitAt = n
	s.commitErr = err
}

// Rows returns a snapshot of the committed rows for a table.
func (s *Store) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]Row, len(s.tables[table]))
	copy(rows, s.tables[table])
	return rows
}

// Schema returns the provisioned schema, or nil.
func (s *Store) Schema(name string) *schema.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemas[name]
}

// OpenHandles reports writer handles that have not been closed.
func (s *Store) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles
}

// Backend connects to named in-memory stores.
type Backend struct{}

// Name returns the registry name.
func (b *Backend) Name() string { return "memory" }

// Connect attaches to the instance's store.
func (b *Backend) Connect(_ context.Context, params sink.ConnectParams) (sink.Conn, error) {
	st := StoreNamed(params.Instance)

	st.mu.Lock()
	connErr := st.connErr
	st.mu.Unlock()
	if connErr != nil {
		return nil, errors.Wrap(connErr, errors.ErrorTypeConnection, "memory store unavailable")
	}

	return &conn{store: st, namespace: params.Namespace}, nil
}

type conn struct {
	store     *Store
	namespace string
	mu        sync.Mutex
	closed    bool
}

func (c *conn) qualify(typeName string) string {
	if c.namespace == "" {
		return typeName
	}
	return c.namespace + "." + typeName
}

// EnsureSchema provisions or verifies the named schema.
func (c *conn) EnsureSchema(_ context.Context, s *schema.Schema) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.ErrorTypeConnection, "connection closed")
	}
	c.mu.Unlock()

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.store.ensure != nil {
		return errors.Wrap(c.store.ensure, errors.ErrorTypeSchemaConflict, "schema provisioning rejected")
	}

	key := c.qualify(s.Name)
	if existing, ok := c.store.schemas[key]; ok {
		if existing.Fingerprint() != s.Fingerprint() {
			return errors.Newf(errors.ErrorTypeSchemaConflict,
				"schema %s already exists with a different shape", s.Name)
		}
		return nil
	}

	c.store.schemas[key] = s
	return nil
}

// OpenWriter opens the append handle for a provisioned type.
func (c *conn) OpenWriter(_ context.Context, typeName string) (sink.WriterHandle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeConnection, "connection closed")
	}
	c.mu.Unlock()

	key := c.qualify(typeName)

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if _, ok := c.store.schemas[key]; !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "type %s not provisioned", typeName)
	}

	c.store.handles++
	return &writerHandle{store: c.store, table: key}, nil
}

// Close marks the connection closed. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type writerHandle struct {
	store  *Store
	table  string
	mu     sync.Mutex
	closed bool
}

// NewSlot returns an empty slot.
func (w *writerHandle) NewSlot() sink.Slot {
	return &sink.RecordSlot{}
}

// Commit appends the slot as one row. Values and metadata are copied, so
// pooled record buffers may be reused immediately after return.
func (w *writerHandle) Commit(_ context.Context, slot sink.Slot) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New(errors.ErrorTypeAppend, "writer handle closed")
	}
	w.mu.Unlock()

	rs, ok := slot.(*sink.RecordSlot)
	if !ok {
		return errors.Newf(errors.ErrorTypeInternal, "foreign slot type %T", slot)
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	attempt := w.store.commits + 1
	if w.store.commitAt == attempt && w.store.commitErr != nil {
		w.store.commits++
		return errors.Wrap(w.store.commitErr, errors.ErrorTypeAppend, "commit rejected")
	}
	w.store.commits++

	row := Row{ID: rs.ID, Values: make([]interface{}, len(rs.Values))}
	copy(row.Values, rs.Values)
	if len(rs.Metadata) > 0 {
		row.Metadata = make(map[string]string, len(rs.Metadata))
		for k, v := range rs.Metadata {
			row.Metadata[k] = v
		}
	}

	w.store.tables[w.table] = append(w.store.tables[w.table], row)
	return nil
}

// Close releases the handle. Safe to call more than once.
func (w *writerHandle) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	w.store.mu.Lock()
	w.store.handles--
	w.store.mu.Unlock()
	return nil
}
