package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
)

func obsSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.ParseSpec("id:string,ts:timestamp,geom:point", "obs")
	require.NoError(t, err)
	return s
}

func connect(t *testing.T, instance string) (sink.Conn, *Store) {
	t.Helper()
	st := StoreNamed(instance)
	st.Reset()

	b := &Backend{}
	conn, err := b.Connect(context.Background(), sink.ConnectParams{Instance: instance})
	require.NoError(t, err)
	return conn, st
}

func commitOne(t *testing.T, w sink.WriterHandle, id string, values ...interface{}) error {
	t.Helper()
	slot := w.NewSlot()
	slot.SetID(id)
	slot.SetValues(values)
	return w.Commit(context.Background(), slot)
}

func TestCommitAppendsRows(t *testing.T) {
	conn, st := connect(t, "commit-rows")
	ctx := context.Background()

	require.NoError(t, conn.EnsureSchema(ctx, obsSchema(t)))
	w, err := conn.OpenWriter(ctx, "obs")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, commitOne(t, w, "a", "a", nil, schema.Point{Lon: 10, Lat: 20}))
	require.NoError(t, commitOne(t, w, "b", "b", nil, schema.Point{Lon: 11, Lat: 21}))

	rows := st.Rows("obs")
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, schema.Point{Lon: 11, Lat: 21}, rows[1].Values[2])
}

func TestCommitCopiesValues(t *testing.T) {
	conn, st := connect(t, "commit-copies")
	ctx := context.Background()

	require.NoError(t, conn.EnsureSchema(ctx, obsSchema(t)))
	w, err := conn.OpenWriter(ctx, "obs")
	require.NoError(t, err)
	defer w.Close()

	values := []interface{}{"a", nil, schema.Point{Lon: 1, Lat: 2}}
	slot := w.NewSlot()
	slot.SetID("a")
	slot.SetValues(values)
	require.NoError(t, w.Commit(ctx, slot))

	values[0] = "mutated"
	assert.Equal(t, "a", st.Rows("obs")[0].Values[0])
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	conn, _ := connect(t, "ensure-idempotent")
	ctx := context.Background()
	s := obsSchema(t)

	require.NoError(t, conn.EnsureSchema(ctx, s))
	require.NoError(t, conn.EnsureSchema(ctx, s))
}

func TestEnsureSchemaConflict(t *testing.T) {
	conn, _ := connect(t, "ensure-conflict")
	ctx := context.Background()

	require.NoError(t, conn.EnsureSchema(ctx, obsSchema(t)))

	other, err := schema.ParseSpec("id:string,name:string", "obs")
	require.NoError(t, err)

	err = conn.EnsureSchema(ctx, other)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaConflict))
}

func TestConnectFailureInjection(t *testing.T) {
	st := StoreNamed("connect-fail")
	st.Reset()
	st.FailConnect(io.ErrClosedPipe)

	b := &Backend{}
	_, err := b.Connect(context.Background(), sink.ConnectParams{Instance: "connect-fail"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestCommitFaultInjection(t *testing.T) {
	conn, st := connect(t, "commit-fault")
	ctx := context.Background()

	require.NoError(t, conn.EnsureSchema(ctx, obsSchema(t)))
	w, err := conn.OpenWriter(ctx, "obs")
	require.NoError(t, err)
	defer w.Close()

	st.FailCommit(2, io.ErrShortWrite)

	require.NoError(t, commitOne(t, w, "a", "a", nil, nil))
	err = commitOne(t, w, "b", "b", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAppend))

	require.NoError(t, commitOne(t, w, "c", "c", nil, nil), "handle stays usable after a fault")

	rows := st.Rows("obs")
	require.Len(t, rows, 2, "failed commit leaves no row, earlier commit survives")
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "c", rows[1].ID)
}

func TestOpenWriterUnprovisioned(t *testing.T) {
	conn, _ := connect(t, "unprovisioned")

	_, err := conn.OpenWriter(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestWriterCloseIdempotent(t *testing.T) {
	conn, st := connect(t, "close-idempotent")
	ctx := context.Background()

	require.NoError(t, conn.EnsureSchema(ctx, obsSchema(t)))
	w, err := conn.OpenWriter(ctx, "obs")
	require.NoError(t, err)

	assert.Equal(t, 1, st.OpenHandles())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 0, st.OpenHandles())

	err = commitOne(t, w, "a", "a")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAppend))
}

func TestClosedConnRejectsOps(t *testing.T) {
	conn, _ := connect(t, "closed-conn")
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	err := conn.EnsureSchema(context.Background(), obsSchema(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	_, err = conn.OpenWriter(context.Background(), "obs")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestNamespaceQualifiesTables(t *testing.T) {
	st := StoreNamed("namespaced")
	st.Reset()

	b := &Backend{}
	conn, err := b.Connect(context.Background(), sink.ConnectParams{Instance: "namespaced", Namespace: "geo"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, conn.EnsureSchema(ctx, obsSchema(t)))
	w, err := conn.OpenWriter(ctx, "obs")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, commitOne(t, w, "a", "a", nil, nil))
	assert.Len(t, st.Rows("geo.obs"), 1)
	assert.Empty(t, st.Rows("obs"))
}

func TestBackendRegistered(t *testing.T) {
	assert.Contains(t, sink.List(), "memory")

	b, err := sink.Get("memory")
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())
}
