// Package avro implements the Avro object container file converter kind.
// The OCF header is read when Parse opens the stream; records decode lazily
// block by block. Avro field names are matched to schema field names, with
// union values unwrapped to their non-null branch.
package avro

import (
	"context"
	"io"
	"strconv"

	"github.com/linkedin/goavro/v2"

	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
)

func init() {
	if err := convert.RegisterFactory("avro", New); err != nil {
		panic(err)
	}
}

// Converter parses Avro container files bound to a single schema.
type Converter struct {
	schema  *schema.Schema
	idField string
}

// New builds an avro converter. Supported options: id_field.
func New(s *schema.Schema, cfg *convert.Config) (convert.Converter, error) {
	return &Converter{
		schema:  s,
		idField: cfg.StringOption("id_field", "id"),
	}, nil
}

// Schema returns the bound schema.
func (c *Converter) Schema() *schema.Schema { return c.schema }

// NewContext creates the evaluation context for one unit of work.
func (c *Converter) NewContext(provenance string) *convert.EvalContext {
	return &convert.EvalContext{Provenance: provenance}
}

// Parse opens the container and returns the record iterator. Opening reads
// the OCF header, so a stream that is not an Avro container fails here.
func (c *Converter) Parse(_ context.Context, r io.Reader, ec *convert.EvalContext) (convert.RecordIterator, error) {
	tr := &trackingReader{r: r}
	ocf, err := goavro.NewOCFReader(tr)
	if err != nil {
		if tr.err != nil {
			return nil, annotate(errors.Wrap(tr.err, errors.ErrorTypeStreamRead, "reading avro container header"), ec)
		}
		return nil, annotate(errors.Wrap(err, errors.ErrorTypeParse, "not an avro container"), ec)
	}
	return &iterator{conv: c, ocf: ocf, tr: tr, ec: ec}, nil
}

// trackingReader remembers the first transport error so container faults can
// be told apart from malformed content.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

type iterator struct {
	conv    *Converter
	ocf     *goavro.OCFReader
	tr      *trackingReader
	ec      *convert.EvalContext
	pending *pool.Record
	err     error
	items   int
	done    bool
}

func (i *iterator) Next() bool {
	if i.done || i.err != nil {
		return false
	}
	if i.pending != nil {
		i.pending.Release()
		i.pending = nil
	}

	if !(i.ocf.RemainingBlockItems() > 0 || i.ocf.Scan()) {
		if err := i.ocf.Err(); err != nil && err != io.EOF {
			i.err = i.classify(err)
		}
		i.done = true
		return false
	}

	datum, err := i.ocf.Read()
	if err != nil {
		i.err = i.classify(err)
		i.done = true
		return false
	}
	i.items++

	rec, err := i.build(datum)
	if err != nil {
		i.err = annotate(errors.Wrapf(err, errors.ErrorTypeParse, "datum %d", i.items), i.ec)
		i.done = true
		return false
	}

	i.pending = rec
	return true
}

func (i *iterator) Record() *pool.Record {
	rec := i.pending
	i.pending = nil
	return rec
}

func (i *iterator) Err() error { return i.err }

func (i *iterator) Close() error {
	if i.pending != nil {
		i.pending.Release()
		i.pending = nil
	}
	i.done = true
	return nil
}

func (i *iterator) build(datum interface{}) (*pool.Record, error) {
	m, ok := datum.(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeParse, "avro datum is %T, want record", datum)
	}

	rec := pool.GetRecord()
	for _, f := range i.conv.schema.Fields {
		raw := m[f.Name]
		if f.Type != schema.FieldTypeJSON {
			raw = unwrapUnion(raw)
		}
		v, err := convert.CoerceField(f, raw)
		if err != nil {
			rec.Release()
			return nil, err
		}
		rec.AppendValue(v)
	}

	if raw, ok := m[i.conv.idField]; ok {
		if v := unwrapUnion(raw); v != nil {
			rec.ID = convert.CoerceString(v)
		}
	}
	if rec.ID == "" {
		rec.ID = pool.GenerateID("rec")
	}

	rec.SetMetadata("datum", strconv.Itoa(i.items))
	return rec, nil
}

// unwrapUnion strips the single branch wrapper goavro uses for union values,
// e.g. {"string": "a"} or {"double": 2.5}. Null branches arrive as nil.
func unwrapUnion(raw interface{}) interface{} {
	if m, ok := raw.(map[string]interface{}); ok && len(m) == 1 {
		for _, v := range m {
			return v
		}
	}
	return raw
}

func (i *iterator) classify(err error) error {
	if i.tr.err != nil {
		return annotate(errors.Wrap(err, errors.ErrorTypeStreamRead, "reading avro container"), i.ec)
	}
	return annotate(errors.Wrapf(err, errors.ErrorTypeParse, "malformed avro block after datum %d", i.items), i.ec)
}

func annotate(err *errors.Error, ec *convert.EvalContext) error {
	if ec != nil && ec.Provenance != "" {
		err.WithDetail("provenance", ec.Provenance)
	}
	return err
}
