package delimited

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
)

func obsSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.ParseSpec("id:string,ts:timestamp,geom:point", "obs")
	require.NoError(t, err)
	return s
}

func newConverter(t *testing.T, s *schema.Schema, options map[string]interface{}) convert.Converter {
	t.Helper()
	conv, err := New(s, &convert.Config{Type: "delimited", Options: options})
	require.NoError(t, err)
	return conv
}

func drain(t *testing.T, conv convert.Converter, input string) ([]*pool.Record, error) {
	t.Helper()
	it, err := conv.Parse(context.Background(), strings.NewReader(input), conv.NewContext("inbox/test.csv"))
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

func TestParseObsRows(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	records, err := drain(t, conv, "a,2020-01-01T00:00:00Z,10,20\nb,2020-01-02T00:00:00Z,11,21\n")
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 2)

	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "a", records[0].Values[0])
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), records[0].Values[1])
	assert.Equal(t, schema.Point{Lon: 10, Lat: 20}, records[0].Values[2])

	assert.Equal(t, "b", records[1].ID)
	assert.Equal(t, schema.Point{Lon: 11, Lat: 21}, records[1].Values[2])
}

func TestInputOrderPreserved(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "id"+strings.Repeat("x", i%3)+",2020-01-01T00:00:00Z,1,2")
	}
	records, err := drain(t, conv, strings.Join(lines, "\n"))
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 50)

	for i, rec := range records {
		assert.Equal(t, "id"+strings.Repeat("x", i%3), rec.ID)
	}
}

func TestHeaderAndSkipRows(t *testing.T) {
	conv := newConverter(t, obsSchema(t), map[string]interface{}{
		"has_header": true,
		"skip_rows":  1,
	})

	input := "id,ts,lon,lat\njunk row to skip,x,y,z\na,2020-01-01T00:00:00Z,10,20\n"
	records, err := drain(t, conv, input)
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}

func TestHeaderOnlyStream(t *testing.T) {
	conv := newConverter(t, obsSchema(t), map[string]interface{}{"has_header": true})

	records, err := drain(t, conv, "id,ts,lon,lat\n")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEmptyStream(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	records, err := drain(t, conv, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCommentRows(t *testing.T) {
	conv := newConverter(t, obsSchema(t), map[string]interface{}{"comment": "#"})

	records, err := drain(t, conv, "# generated\na,2020-01-01T00:00:00Z,10,20\n")
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 1)
}

func TestCustomDelimiter(t *testing.T) {
	conv := newConverter(t, obsSchema(t), map[string]interface{}{"delimiter": "|"})

	records, err := drain(t, conv, "a|2020-01-01T00:00:00Z|10|20\n")
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 1)
	assert.Equal(t, schema.Point{Lon: 10, Lat: 20}, records[0].Values[2])
}

func TestColumnCountMismatch(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	records, err := drain(t, conv, "a,2020-01-01T00:00:00Z,10,20\nb,2020-01-02T00:00:00Z,11\n")
	defer releaseAll(records)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
	assert.Len(t, records, 1, "records before the fault still come through")
}

func TestBadTimestampFault(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	records, err := drain(t, conv, "a,2020-01-01T00:00:00Z,10,20\nb,not a time,11,21\n")
	defer releaseAll(records)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
	assert.Contains(t, err.Error(), "line 2")
	assert.Len(t, records, 1)
}

func TestFaultCarriesProvenance(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	_, err := drain(t, conv, "a,bogus,10,20\n")
	require.Error(t, err)

	var be *errors.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "inbox/test.csv", be.Details["provenance"])
}

func TestNullableEmptyCell(t *testing.T) {
	s, err := schema.ParseSpec("id:string,note:string?,geom:point?", "obs")
	require.NoError(t, err)
	conv := newConverter(t, s, nil)

	records, err := drain(t, conv, "a,,,\n")
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Values[1])
	assert.Nil(t, records[0].Values[2])
}

func TestGeneratedIDs(t *testing.T) {
	s, err := schema.ParseSpec("name:string,score:int", "players")
	require.NoError(t, err)
	conv := newConverter(t, s, nil)

	records, err := drain(t, conv, "alice,10\nbob,20\n")
	require.NoError(t, err)
	defer releaseAll(records)
	require.Len(t, records, 2)

	assert.True(t, strings.HasPrefix(records[0].ID, "rec-"))
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

type failingReader struct {
	data string
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestStreamReadFault(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	it, err := conv.Parse(context.Background(), &failingReader{data: "a,2020-01-01T00:00:00Z,10,20\n"}, conv.NewContext(""))
	require.NoError(t, err)
	defer it.Close()

	var n int
	for it.Next() {
		it.Record().Release()
		n++
	}
	require.Error(t, it.Err())
	assert.True(t, errors.IsType(it.Err(), errors.ErrorTypeStreamRead))
	assert.Equal(t, 1, n)
}

func TestIteratorDoesNotCloseStream(t *testing.T) {
	conv := newConverter(t, obsSchema(t), nil)

	r := strings.NewReader("a,2020-01-01T00:00:00Z,10,20\n")
	it, err := conv.Parse(context.Background(), r, conv.NewContext(""))
	require.NoError(t, err)

	for it.Next() {
		it.Record().Release()
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
}

func TestFactoryErrors(t *testing.T) {
	s := obsSchema(t)

	tests := []struct {
		name    string
		options map[string]interface{}
	}{
		{"multi rune delimiter", map[string]interface{}{"delimiter": "||"}},
		{"newline delimiter", map[string]interface{}{"delimiter": "\n"}},
		{"comment equals delimiter", map[string]interface{}{"comment": ","}},
		{"negative skip rows", map[string]interface{}{"skip_rows": -1}},
		{"id field is a point", map[string]interface{}{"id_field": "geom"}},
		{"id field not in schema", map[string]interface{}{"id_field": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(s, &convert.Config{Type: "delimited", Options: tt.options})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestKindRegistered(t *testing.T) {
	assert.Contains(t, convert.ListKinds(), "delimited")
	assert.Contains(t, convert.ListKinds(), "csv")
}
