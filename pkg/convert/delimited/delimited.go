// Package delimited implements the delimited-text converter kind. It parses
// CSV style streams where each data row becomes one record. Point fields
// consume two consecutive columns, longitude then latitude; every other
// field consumes one.
package delimited

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
)

func init() {
	for _, kind := range []string{"delimited", "csv"} {
		if err := convert.RegisterFactory(kind, New); err != nil {
			panic(err)
		}
	}
}

// slot maps one schema field to the columns it consumes.
type slot struct {
	field schema.Field
	width int
}

// Converter parses delimited text bound to a single schema.
type Converter struct {
	schema    *schema.Schema
	delimiter rune
	comment   rune
	hasHeader bool
	skipRows  int
	trimSpace bool
	plan      []slot
	cols      int
	idCol     int
}

// New builds a delimited converter. Supported options: delimiter, comment,
// has_header, skip_rows, trim_space, id_field.
func New(s *schema.Schema, cfg *convert.Config) (convert.Converter, error) {
	c := &Converter{
		schema:    s,
		delimiter: ',',
		hasHeader: cfg.BoolOption("has_header", false),
		skipRows:  cfg.IntOption("skip_rows", 0),
		trimSpace: cfg.BoolOption("trim_space", false),
		idCol:     -1,
	}

	if d := cfg.StringOption("delimiter", ","); d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) || !validDelim(r) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid delimiter %q", d)
		}
		c.delimiter = r
	}

	if cm := cfg.StringOption("comment", ""); cm != "" {
		r, size := utf8.DecodeRuneInString(cm)
		if size != len(cm) || !validDelim(r) || r == c.delimiter {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid comment rune %q", cm)
		}
		c.comment = r
	}

	if c.skipRows < 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "skip_rows must be >= 0, got %d", c.skipRows)
	}

	idField := cfg.StringOption("id_field", "id")
	col := 0
	for _, f := range s.Fields {
		width := 1
		if f.Type == schema.FieldTypePoint {
			width = 2
		}
		if f.Name == idField {
			if width != 1 {
				return nil, errors.Newf(errors.ErrorTypeConfig, "id_field %s is a point field", idField)
			}
			c.idCol = col
		}
		c.plan = append(c.plan, slot{field: f, width: width})
		col += width
	}
	c.cols = col

	if c.idCol < 0 && cfg.StringOption("id_field", "") != "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "id_field %s not in schema %s", idField, s.Name)
	}

	return c, nil
}

func validDelim(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && r != utf8.RuneError
}

// Schema returns the bound schema.
func (c *Converter) Schema() *schema.Schema { return c.schema }

// NewContext creates the evaluation context for one unit of work.
func (c *Converter) NewContext(provenance string) *convert.EvalContext {
	return &convert.EvalContext{Provenance: provenance}
}

// Parse wraps the stream in a lazy record iterator. Nothing is read until
// the first Next call.
func (c *Converter) Parse(_ context.Context, r io.Reader, ec *convert.EvalContext) (convert.RecordIterator, error) {
	cr := csv.NewReader(r)
	cr.Comma = c.delimiter
	cr.Comment = c.comment
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = c.trimSpace

	return &iterator{conv: c, reader: cr, ec: ec}, nil
}

type iterator struct {
	conv    *Converter
	reader  *csv.Reader
	ec      *convert.EvalContext
	pending *pool.Record
	err     error
	primed  bool
	done    bool
}

// Next reads rows until one coerces into a record or the stream ends.
func (i *iterator) Next() bool {
	if i.done || i.err != nil {
		return false
	}
	if i.pending != nil {
		i.pending.Release()
		i.pending = nil
	}
	if !i.primed {
		if !i.prime() {
			return false
		}
	}

	row, err := i.reader.Read()
	if err != nil {
		if err != io.EOF {
			i.err = i.classify(err)
		}
		i.done = true
		return false
	}

	rec, err := i.build(row)
	if err != nil {
		line, _ := i.reader.FieldPos(0)
		i.err = i.annotate(errors.Wrapf(err, errors.ErrorTypeParse, "line %d", line))
		i.done = true
		return false
	}

	i.pending = rec
	return true
}

// Record hands the current record to the caller, which now owns it.
func (i *iterator) Record() *pool.Record {
	rec := i.pending
	i.pending = nil
	return rec
}

func (i *iterator) Err() error { return i.err }

// Close releases any record produced but never handed out. The underlying
// stream stays open; its owner closes it.
func (i *iterator) Close() error {
	if i.pending != nil {
		i.pending.Release()
		i.pending = nil
	}
	i.done = true
	return nil
}

// prime consumes the header row and any skip rows before the first record.
func (i *iterator) prime() bool {
	i.primed = true
	skip := i.conv.skipRows
	if i.conv.hasHeader {
		skip++
	}
	for n := 0; n < skip; n++ {
		if _, err := i.reader.Read(); err != nil {
			if err != io.EOF {
				i.err = i.classify(err)
			}
			i.done = true
			return false
		}
	}
	return true
}

// build turns one row into a pooled record.
func (i *iterator) build(row []string) (*pool.Record, error) {
	if len(row) != i.conv.cols {
		return nil, errors.Newf(errors.ErrorTypeParse, "expected %d columns, got %d", i.conv.cols, len(row))
	}

	rec := pool.GetRecord()
	col := 0
	for _, sl := range i.conv.plan {
		var raw interface{}
		if sl.width == 2 {
			if row[col] == "" && row[col+1] == "" {
				raw = ""
			} else {
				raw = []interface{}{row[col], row[col+1]}
			}
		} else {
			raw = row[col]
		}
		v, err := convert.CoerceField(sl.field, raw)
		if err != nil {
			rec.Release()
			return nil, err
		}
		rec.AppendValue(v)
		col += sl.width
	}

	if i.conv.idCol >= 0 && row[i.conv.idCol] != "" {
		rec.ID = row[i.conv.idCol]
	} else {
		rec.ID = pool.GenerateID("rec")
	}

	if line, _ := i.reader.FieldPos(0); line > 0 {
		rec.SetMetadata("line", strconv.Itoa(line))
	}
	return rec, nil
}

// classify separates malformed content from transport failures.
func (i *iterator) classify(err error) error {
	var pe *csv.ParseError
	if stderrors.As(err, &pe) {
		return i.annotate(errors.Wrap(err, errors.ErrorTypeParse, fmt.Sprintf("malformed row at line %d", pe.Line)))
	}
	return i.annotate(errors.Wrap(err, errors.ErrorTypeStreamRead, "reading delimited stream"))
}

func (i *iterator) annotate(err error) error {
	var be *errors.Error
	if stderrors.As(err, &be) && i.ec != nil && i.ec.Provenance != "" {
		be.WithDetail("provenance", i.ec.Provenance)
	}
	return err
}
