// Package postgres implements the PostgreSQL sink backend on pgx. Each
// schema maps to one table; point fields span two double precision columns
// so the spatial pair stays queryable without an extension. Every commit is
// a single INSERT, durable on its own.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/json"
	"github.com/geobridge/geobridge/pkg/logger"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
)

func init() {
	if err := sink.Register("postgres", func() sink.Backend { return &Backend{} }); err != nil {
		panic(err)
	}
}

// Backend connects to PostgreSQL.
type Backend struct{}

// Name returns the registry name.
func (b *Backend) Name() string { return "postgres" }

// Connect parses the connection string, applies pool sizing and verifies
// the server is reachable.
func (b *Backend) Connect(ctx context.Context, params sink.ConnectParams) (sink.Conn, error) {
	connString, err := connectionString(params)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse postgres connection string")
	}

	if params.MaxConns > 0 {
		poolConfig.MaxConns = params.MaxConns
	}
	if params.MinConns > 0 {
		poolConfig.MinConns = params.MinConns
	}
	if params.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = params.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create postgres pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "postgres unreachable")
	}

	log := logger.Get().With(zap.String("backend", "postgres"))
	log.Info("postgres connected",
		zap.String("namespace", params.Namespace),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return &conn{
		pool:           pool,
		namespace:      params.Namespace,
		requestTimeout: params.RequestTimeout,
		ensured:        make(map[string]*schema.Schema),
		logger:         log,
	}, nil
}

// connectionString prefers an explicit connection_string credential and
// otherwise assembles one from endpoint parts.
func connectionString(params sink.ConnectParams) (string, error) {
	if cs := params.Credentials["connection_string"]; cs != "" {
		return cs, nil
	}
	if len(params.Endpoints) == 0 || params.Instance == "" {
		return "", errors.New(errors.ErrorTypeConfig,
			"postgres needs credentials.connection_string or endpoints plus instance")
	}

	var sb strings.Builder
	sb.WriteString("postgres://")
	if user := params.Credentials["username"]; user != "" {
		sb.WriteString(user)
		if pass := params.Credentials["password"]; pass != "" {
			sb.WriteString(":")
			sb.WriteString(pass)
		}
		sb.WriteString("@")
	}
	sb.WriteString(params.Endpoints[0])
	sb.WriteString("/")
	sb.WriteString(params.Instance)
	if !params.EnableTLS {
		sb.WriteString("?sslmode=disable")
	}
	return sb.String(), nil
}

type conn struct {
	pool           *pgxpool.Pool
	namespace      string
	requestTimeout time.Duration
	mu             sync.Mutex
	ensured        map[string]*schema.Schema
	logger         *zap.Logger
}

func (c *conn) pgSchema() string {
	if c.namespace == "" {
		return "public"
	}
	return c.namespace
}

func (c *conn) qualified(typeName string) string {
	return pgx.Identifier{c.pgSchema(), typeName}.Sanitize()
}

// EnsureSchema creates the table when absent and verifies column
// compatibility when present.
func (c *conn) EnsureSchema(ctx context.Context, s *schema.Schema) error {
	if c.namespace != "" {
		ddl := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{c.namespace}.Sanitize()
		if _, err := c.pool.Exec(ctx, ddl); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create namespace schema")
		}
	}

	want := columnsFor(s)

	existing, err := c.existingColumns(ctx, s.Name)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if err := compareColumns(s.Name, want, existing); err != nil {
			return err
		}
		c.remember(s)
		c.logger.Debug("table already provisioned", zap.String("type", s.Name))
		return nil
	}

	defs := make([]string, len(want))
	for i, col := range want {
		def := pgx.Identifier{col.name}.Sanitize() + " " + col.ddlType
		if col.notNull {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		c.qualified(s.Name), strings.Join(defs, ", "))

	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create table")
	}

	c.remember(s)
	c.logger.Info("table provisioned",
		zap.String("type", s.Name),
		zap.Int("columns", len(want)))
	return nil
}

func (c *conn) remember(s *schema.Schema) {
	c.mu.Lock()
	c.ensured[s.Name] = s
	c.mu.Unlock()
}

type pgColumn struct {
	name     string
	ddlType  string
	infoType string
	notNull  bool
}

// columnsFor maps schema fields to table columns. The record identifier
// lands in fid; point fields expand to <name>_lon and <name>_lat.
func columnsFor(s *schema.Schema) []pgColumn {
	cols := []pgColumn{{name: "fid", ddlType: "TEXT", infoType: "text", notNull: true}}
	for _, f := range s.Fields {
		if f.Type == schema.FieldTypePoint {
			cols = append(cols,
				pgColumn{name: f.Name + "_lon", ddlType: "DOUBLE PRECISION", infoType: "double precision", notNull: !f.Nullable},
				pgColumn{name: f.Name + "_lat", ddlType: "DOUBLE PRECISION", infoType: "double precision", notNull: !f.Nullable})
			continue
		}
		ddl, info := sqlType(f.Type)
		cols = append(cols, pgColumn{name: f.Name, ddlType: ddl, infoType: info, notNull: !f.Nullable})
	}
	return cols
}

func sqlType(ft schema.FieldType) (ddl, info string) {
	switch ft {
	case schema.FieldTypeInt:
		return "BIGINT", "bigint"
	case schema.FieldTypeFloat:
		return "DOUBLE PRECISION", "double precision"
	case schema.FieldTypeBool:
		return "BOOLEAN", "boolean"
	case schema.FieldTypeTimestamp:
		return "TIMESTAMPTZ", "timestamp with time zone"
	case schema.FieldTypeDate:
		return "DATE", "date"
	case schema.FieldTypeJSON:
		return "JSONB", "jsonb"
	case schema.FieldTypeBinary:
		return "BYTEA", "bytea"
	default:
		return "TEXT", "text"
	}
}

func (c *conn) existingColumns(ctx context.Context, typeName string) ([]pgColumn, error) {
	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := c.pool.Query(ctx, query, c.pgSchema(), typeName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to inspect existing table")
	}
	defer rows.Close()

	var cols []pgColumn
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to scan column metadata")
		}
		cols = append(cols, pgColumn{name: name, infoType: dataType, notNull: nullable == "NO"})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read column metadata")
	}
	return cols, nil
}

// compareColumns requires the live table to match the schema exactly. Any
// drift is a conflict, never silently ignored.
func compareColumns(typeName string, want, got []pgColumn) error {
	if len(want) != len(got) {
		return errors.Newf(errors.ErrorTypeSchemaConflict,
			"table %s exists with %d columns, schema needs %d", typeName, len(got), len(want))
	}
	for i := range want {
		switch {
		case want[i].name != got[i].name:
			return errors.Newf(errors.ErrorTypeSchemaConflict,
				"table %s column %d is %s, schema needs %s", typeName, i+1, got[i].name, want[i].name)
		case want[i].infoType != got[i].infoType:
			return errors.Newf(errors.ErrorTypeSchemaConflict,
				"table %s column %s is %s, schema needs %s", typeName, want[i].name, got[i].infoType, want[i].infoType)
		case want[i].notNull != got[i].notNull:
			return errors.Newf(errors.ErrorTypeSchemaConflict,
				"table %s column %s nullability differs from schema", typeName, want[i].name)
		}
	}
	return nil
}

// OpenWriter prepares the INSERT for one provisioned type.
func (c *conn) OpenWriter(ctx context.Context, typeName string) (sink.WriterHandle, error) {
	var reg *string
	target := c.pgSchema() + "." + typeName
	if err := c.pool.QueryRow(ctx, "SELECT to_regclass($1)::text", target).Scan(&reg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to check table existence")
	}
	if reg == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "type %s not provisioned", typeName)
	}

	s, err := c.tableSchema(typeName)
	if err != nil {
		return nil, err
	}

	cols := columnsFor(s)
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		names[i] = pgx.Identifier{col.name}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.qualified(typeName), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	return &writerHandle{
		pool:           c.pool,
		fields:         s.Fields,
		insertSQL:      insertSQL,
		requestTimeout: c.requestTimeout,
		logger:         c.logger.With(zap.String("type", typeName)),
	}, nil
}

// tableSchema returns the field plan captured by EnsureSchema. The
// processor always ensures before opening, so a miss is a usage bug.
func (c *conn) tableSchema(typeName string) (*schema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.ensured[typeName]; ok {
		return s, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "type %s was not ensured on this connection", typeName)
}

// Close releases the pool.
func (c *conn) Close() error {
	c.pool.Close()
	return nil
}

type writerHandle struct {
	pool           *pgxpool.Pool
	fields         []schema.Field
	insertSQL      string
	requestTimeout time.Duration
	logger         *zap.Logger
	closed         bool
}

// NewSlot returns an empty slot.
func (w *writerHandle) NewSlot() sink.Slot {
	return &sink.RecordSlot{}
}

// Commit inserts one row.
func (w *writerHandle) Commit(ctx context.Context, slot sink.Slot) error {
	if w.closed {
		return errors.New(errors.ErrorTypeAppend, "writer handle closed")
	}
	rs, ok := slot.(*sink.RecordSlot)
	if !ok {
		return errors.Newf(errors.ErrorTypeInternal, "foreign slot type %T", slot)
	}
	if len(rs.Values) != len(w.fields) {
		return errors.Newf(errors.ErrorTypeAppend,
			"slot has %d values, schema needs %d", len(rs.Values), len(w.fields))
	}

	args, err := w.buildArgs(rs)
	if err != nil {
		return err
	}

	if w.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.requestTimeout)
		defer cancel()
	}

	if _, err := w.pool.Exec(ctx, w.insertSQL, args...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeAppend, "insert failed")
	}
	return nil
}

// buildArgs flattens slot values into insert parameters, expanding points
// and pre-encoding json fields.
func (w *writerHandle) buildArgs(rs *sink.RecordSlot) ([]interface{}, error) {
	args := make([]interface{}, 0, len(w.fields)+2)
	args = append(args, rs.ID)

	for i, f := range w.fields {
		v := rs.Values[i]
		switch {
		case f.Type == schema.FieldTypePoint:
			if v == nil {
				args = append(args, nil, nil)
				continue
			}
			pt, ok := v.(schema.Point)
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeAppend, "field %s holds %T, want point", f.Name, v)
			}
			args = append(args, pt.Lon, pt.Lat)
		case f.Type == schema.FieldTypeJSON && v != nil:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeAppend, "failed to encode json field")
			}
			args = append(args, encoded)
		default:
			args = append(args, v)
		}
	}
	return args, nil
}

// Close marks the handle closed. Inserts are unbatched, so there is nothing
// to flush. Safe to call more than once.
func (w *writerHandle) Close() error {
	w.closed = true
	return nil
}
