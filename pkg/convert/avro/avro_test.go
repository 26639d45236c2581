package avro

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
)

const obsAvroSchema = `{
	"type": "record",
	"name": "obs",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "ts", "type": "long"},
		{"name": "geom", "type": {
			"type": "record",
			"name": "geom_t",
			"fields": [
				{"name": "lon", "type": "double"},
				{"name": "lat", "type": "double"}
			]
		}}
	]
}`

func writeContainer(t *testing.T, avroSchema string, data []map[string]interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Schema: avroSchema})
	require.NoError(t, err)

	native := make([]interface{}, len(data))
	for i, d := range data {
		native[i] = d
	}
	require.NoError(t, w.Append(native))
	return buf.Bytes()
}

func newConverter(t *testing.T, spec string) convert.Converter {
	t.Helper()
	s, err := schema.ParseSpec(spec, "obs")
	require.NoError(t, err)
	conv, err := New(s, &convert.Config{Type: "avro"})
	require.NoError(t, err)
	return conv
}

func drain(t *testing.T, conv convert.Converter, data []byte) ([]*pool.Record, error) {
	t.Helper()
	it, err := conv.Parse(context.Background(), bytes.NewReader(data), conv.NewContext("inbox/test.avro"))
	require.NoError(t, err)
	defer it.Close()

	var records []*pool.Record
	for it.Next() {
		records = append(records, it.Record())
	}
	return records, it.Err()
}

func releaseAll(records []*pool.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

func TestParseContainer(t *testing.T) {
	data := writeContainer(t, obsAvroSchema, []map[string]interface{}{
		{"id": "a", "ts": int64(1577836800000), "geom": map[string]interface{}{"lon": 10.0, "lat": 20.0}},
		{"id": "b", "ts": int64(1577923200000), "geom": map[string]interface{}{"lon": 11.0, "lat": 21.0}},
	})

	conv := newConverter(t, "id:string,ts:timestamp,geom:point")
	records, err := drain(t, conv, data)
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 2)

	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), records[0].Values[1])
	assert.Equal(t, schema.Point{Lon: 10, Lat: 20}, records[0].Values[2])
	assert.Equal(t, "b", records[1].ID)
	assert.Equal(t, schema.Point{Lon: 11, Lat: 21}, records[1].Values[2])
}

func TestUnionNullable(t *testing.T) {
	avroSchema := `{
		"type": "record",
		"name": "obs",
		"fields": [
			{"name": "id", "type": "string"},
			{"name": "note", "type": ["null", "string"]}
		]
	}`
	data := writeContainer(t, avroSchema, []map[string]interface{}{
		{"id": "a", "note": map[string]interface{}{"string": "hello"}},
		{"id": "b", "note": nil},
	})

	conv := newConverter(t, "id:string,note:string?")
	records, err := drain(t, conv, data)
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 2)

	assert.Equal(t, "hello", records[0].Values[1])
	assert.Nil(t, records[1].Values[1])
}

func TestMissingRequiredField(t *testing.T) {
	avroSchema := `{
		"type": "record",
		"name": "obs",
		"fields": [{"name": "id", "type": "string"}]
	}`
	data := writeContainer(t, avroSchema, []map[string]interface{}{{"id": "a"}})

	conv := newConverter(t, "id:string,ts:timestamp")
	records, err := drain(t, conv, data)
	defer releaseAll(records)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
	assert.Contains(t, err.Error(), "ts")
}

func TestNotAvroContainer(t *testing.T) {
	conv := newConverter(t, "id:string")

	_, err := conv.Parse(context.Background(), strings.NewReader("id,ts\na,b\n"), conv.NewContext("inbox/x.csv"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))

	var be *errors.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "inbox/x.csv", be.Details["provenance"])
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestStreamReadFaultOnHeader(t *testing.T) {
	conv := newConverter(t, "id:string")

	_, err := conv.Parse(context.Background(), brokenReader{}, conv.NewContext(""))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStreamRead))
}

func TestGeneratedIDs(t *testing.T) {
	avroSchema := `{
		"type": "record",
		"name": "obs",
		"fields": [{"name": "name", "type": "string"}]
	}`
	data := writeContainer(t, avroSchema, []map[string]interface{}{
		{"name": "x"},
		{"name": "y"},
	})

	conv := newConverter(t, "name:string")
	records, err := drain(t, conv, data)
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 2)

	assert.True(t, strings.HasPrefix(records[0].ID, "rec-"))
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestKindRegistered(t *testing.T) {
	assert.Contains(t, convert.ListKinds(), "avro")
}
