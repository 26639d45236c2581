package bridge

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geobridge/geobridge/pkg/config"
	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
	"github.com/geobridge/geobridge/pkg/sink/memory"
	"github.com/geobridge/geobridge/pkg/testutil"

	_ "github.com/geobridge/geobridge/pkg/convert/delimited"
)

const goodCSV = "a,2020-01-01T00:00:00Z,10,20\nb,2020-01-02T00:00:00Z,11,21\n"

// newUnit builds a unit of work over an in-memory stream.
func newUnit(name, content string) *UnitOfWork {
	return &UnitOfWork{
		Attributes: map[string]string{AttrPath: "inbox/", AttrFilename: name},
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

// startProcessor starts a processor against a freshly reset memory store.
func startProcessor(t *testing.T, inst string) (*Processor, *memory.Store) {
	t.Helper()

	store := memory.StoreNamed(inst)
	store.Reset()

	proc := NewProcessor(testutil.MemoryConfig(inst))
	require.NoError(t, proc.Start(context.Background()))
	t.Cleanup(func() { _ = proc.Stop(context.Background()) })

	return proc, store
}

func TestStartupProvisionsSchemaAndHandle(t *testing.T) {
	proc, store := startProcessor(t, "startup")

	assert.Equal(t, StateActive, proc.State())
	require.NotNil(t, store.Schema("obs"))
	assert.Equal(t, "obs", store.Schema("obs").Name)
	assert.Equal(t, 1, store.OpenHandles())
}

func TestTwoLineCSVUnitSucceeds(t *testing.T) {
	proc, store := startProcessor(t, "happy")

	out := proc.Invoke(context.Background(), newUnit("obs.csv", goodCSV))
	require.NoError(t, out.Err)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, int64(2), out.Records)
	assert.Equal(t, "inbox/obs.csv", out.Provenance)
	assert.GreaterOrEqual(t, out.Duration, time.Duration(0))

	rows := store.Rows("obs")
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "a", rows[0].Values[0])
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].Values[1])
	assert.Equal(t, schema.Point{Lon: 10, Lat: 20}, rows[0].Values[2])
	assert.Equal(t, "b", rows[1].ID)
	assert.Equal(t, schema.Point{Lon: 11, Lat: 21}, rows[1].Values[2])
}

func TestMalformedLineKeepsCommittedPrefix(t *testing.T) {
	proc, store := startProcessor(t, "malformed")

	out := proc.Invoke(context.Background(), newUnit("obs.csv", "a,2020-01-01T00:00:00Z,10,20\nBADLINE\n"))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, int64(1), out.Records)
	require.Error(t, out.Err)
	assert.True(t, errors.IsType(out.Err, errors.ErrorTypeParse))

	rows := store.Rows("obs")
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)

	// the shared handle survives the fault
	next := proc.Invoke(context.Background(), newUnit("more.csv", goodCSV))
	assert.Equal(t, StatusSucceeded, next.Status)
	assert.Len(t, store.Rows("obs"), 3)
}

func TestAppendFaultFailsUnitOnly(t *testing.T) {
	proc, store := startProcessor(t, "append-fault")
	store.FailCommit(2, errors.New(errors.ErrorTypeAppend, "disk full"))

	out := proc.Invoke(context.Background(), newUnit("obs.csv", goodCSV))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, int64(1), out.Records)
	assert.True(t, errors.IsType(out.Err, errors.ErrorTypeAppend))
	assert.Len(t, store.Rows("obs"), 1)

	next := proc.Invoke(context.Background(), newUnit("more.csv", goodCSV))
	assert.Equal(t, StatusSucceeded, next.Status)
	assert.Len(t, store.Rows("obs"), 3)
}

func TestEmptyUnitIsNoOp(t *testing.T) {
	proc, store := startProcessor(t, "noop")

	out := proc.Invoke(context.Background(), nil)
	assert.Equal(t, StatusNoOp, out.Status)
	assert.Zero(t, out.Records)
	assert.NoError(t, out.Err)

	out = proc.Invoke(context.Background(), &UnitOfWork{Attributes: map[string]string{AttrFilename: "x.csv"}})
	assert.Equal(t, StatusNoOp, out.Status)

	assert.Empty(t, store.Rows("obs"))
}

func TestZeroByteStreamSucceedsWithNoRecords(t *testing.T) {
	proc, store := startProcessor(t, "zero-byte")

	out := proc.Invoke(context.Background(), newUnit("empty.csv", ""))
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Zero(t, out.Records)
	assert.Empty(t, store.Rows("obs"))
}

func TestUnreachableBackendFailsStartup(t *testing.T) {
	store := memory.StoreNamed("unreachable")
	store.Reset()
	store.FailConnect(errors.New(errors.ErrorTypeConnection, "backend down"))

	proc := NewProcessor(testutil.MemoryConfig("unreachable"))
	err := proc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, StateStopped, proc.State())
	assert.Zero(t, store.OpenHandles())

	out := proc.Invoke(context.Background(), newUnit("obs.csv", goodCSV))
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, errors.IsType(out.Err, errors.ErrorTypeInternal))
	assert.Empty(t, store.Rows("obs"))
}

func TestSchemaConflictFailsStartup(t *testing.T) {
	store := memory.StoreNamed("conflict")
	store.Reset()

	// provision an incompatible schema under the same type name
	backend, err := sink.Get("memory")
	require.NoError(t, err)
	conn, err := backend.Connect(context.Background(), sink.ConnectParams{Instance: "conflict"})
	require.NoError(t, err)
	other, err := schema.ParseSpec("id:string,note:string", "obs")
	require.NoError(t, err)
	require.NoError(t, conn.EnsureSchema(context.Background(), other))
	require.NoError(t, conn.Close())

	proc := NewProcessor(testutil.MemoryConfig("conflict"))
	err = proc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict))
	assert.Equal(t, StateStopped, proc.State())
	assert.Zero(t, store.OpenHandles())
}

func TestConfigSourceValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name: "no schema source",
			mutate: func(cfg *config.Config) {
				cfg.Schema.InlineSpec = ""
			},
		},
		{
			name: "both schema sources",
			mutate: func(cfg *config.Config) {
				cfg.Schema.Name = "obs"
			},
		},
		{
			name: "no converter source",
			mutate: func(cfg *config.Config) {
				cfg.Converter.InlineSpec = ""
			},
		},
		{
			name: "both converter sources",
			mutate: func(cfg *config.Config) {
				cfg.Converter.Name = "obs-csv"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutil.MemoryConfig("validation")
			tt.mutate(cfg)

			proc := NewProcessor(cfg)
			err := proc.Start(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, StateStopped, proc.State())
		})
	}
}

func TestUnknownBackendFailsStartup(t *testing.T) {
	cfg := testutil.MemoryConfig("unknown-backend")
	cfg.Sink.Backend = "etcd"

	proc := NewProcessor(cfg)
	err := proc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestUnknownConverterKindFailsStartup(t *testing.T) {
	cfg := testutil.MemoryConfig("unknown-converter")
	cfg.Converter.InlineSpec = `{"type":"parquet"}`
	memory.StoreNamed("unknown-converter").Reset()

	proc := NewProcessor(cfg)
	err := proc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Zero(t, memory.StoreNamed("unknown-converter").OpenHandles())
}

func TestResolutionByRegistryNames(t *testing.T) {
	store := memory.StoreNamed("by-name")
	store.Reset()

	obs, err := schema.ParseSpec(testutil.ObsSpec, "obs")
	require.NoError(t, err)
	require.NoError(t, schema.Register(obs.WithName("obs-registered")))
	require.NoError(t, convert.RegisterConfig("obs-csv-registered", &convert.Config{Type: "delimited"}))

	cfg := testutil.MemoryConfig("by-name")
	cfg.Schema.Name = "obs-registered"
	cfg.Schema.InlineSpec = ""
	cfg.Schema.TypeNameOverride = ""
	cfg.Converter.Name = "obs-csv-registered"
	cfg.Converter.InlineSpec = ""

	proc := NewProcessor(cfg)
	require.NoError(t, proc.Start(context.Background()))
	defer proc.Stop(context.Background())

	out := proc.Invoke(context.Background(), newUnit("obs.csv", goodCSV))
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Len(t, store.Rows("obs-registered"), 2)
}

func TestStartStopStartGetsFreshHandles(t *testing.T) {
	store := memory.StoreNamed("cycles")
	store.Reset()

	proc := NewProcessor(testutil.MemoryConfig("cycles"))

	require.NoError(t, proc.Start(context.Background()))
	assert.Equal(t, 1, store.OpenHandles())
	out := proc.Invoke(context.Background(), newUnit("a.csv", goodCSV))
	assert.Equal(t, StatusSucceeded, out.Status)

	require.NoError(t, proc.Stop(context.Background()))
	assert.Equal(t, StateStopped, proc.State())
	assert.Zero(t, store.OpenHandles())

	rejected := proc.Invoke(context.Background(), newUnit("b.csv", goodCSV))
	assert.Equal(t, StatusFailed, rejected.Status)
	assert.True(t, errors.IsType(rejected.Err, errors.ErrorTypeInternal))

	require.NoError(t, proc.Start(context.Background()))
	defer proc.Stop(context.Background())
	assert.Equal(t, 1, store.OpenHandles())

	out = proc.Invoke(context.Background(), newUnit("c.csv", goodCSV))
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Len(t, store.Rows("obs"), 4)
}

func TestStopIsIdempotent(t *testing.T) {
	proc := NewProcessor(testutil.MemoryConfig("stop-twice"))
	memory.StoreNamed("stop-twice").Reset()

	assert.NoError(t, proc.Stop(context.Background()))

	require.NoError(t, proc.Start(context.Background()))
	assert.NoError(t, proc.Stop(context.Background()))
	assert.NoError(t, proc.Stop(context.Background()))
	assert.Equal(t, StateStopped, proc.State())
}

func TestDoubleStartRejected(t *testing.T) {
	proc, _ := startProcessor(t, "double-start")

	err := proc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Equal(t, StateActive, proc.State())

	out := proc.Invoke(context.Background(), newUnit("obs.csv", goodCSV))
	assert.Equal(t, StatusSucceeded, out.Status)
}

type panicConverter struct{ s *schema.Schema }

func (c *panicConverter) Schema() *schema.Schema { return c.s }
func (c *panicConverter) NewContext(p string) *convert.EvalContext {
	return &convert.EvalContext{Provenance: p}
}
func (c *panicConverter) Parse(context.Context, io.Reader, *convert.EvalContext) (convert.RecordIterator, error) {
	panic("parse blew up")
}

func TestInvokeRecoversPanicIntoOutcome(t *testing.T) {
	require.NoError(t, convert.RegisterFactory("panicking", func(s *schema.Schema, _ *convert.Config) (convert.Converter, error) {
		return &panicConverter{s: s}, nil
	}))

	store := memory.StoreNamed("panics")
	store.Reset()

	cfg := testutil.MemoryConfig("panics")
	cfg.Converter.InlineSpec = `{"type":"panicking"}`

	proc := NewProcessor(cfg)
	require.NoError(t, proc.Start(context.Background()))
	defer proc.Stop(context.Background())

	out := proc.Invoke(context.Background(), newUnit("obs.csv", goodCSV))
	assert.Equal(t, StatusFailed, out.Status)
	require.Error(t, out.Err)
	assert.True(t, errors.IsType(out.Err, errors.ErrorTypeInternal))
	assert.Contains(t, out.Err.Error(), "panic during invocation")

	assert.Equal(t, StateActive, proc.State())
}
