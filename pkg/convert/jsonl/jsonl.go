// Package jsonl implements the JSON Lines converter kind. Each line of the
// stream is one JSON object; object keys are matched to schema field names.
// Keys absent from an object behave like empty values, so they are nil for
// nullable fields and a parse fault otherwise.
package jsonl

import (
	"context"
	stderrors "errors"
	"io"
	"strconv"

	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/json"
	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
)

func init() {
	for _, kind := range []string{"jsonl", "json"} {
		if err := convert.RegisterFactory(kind, New); err != nil {
			panic(err)
		}
	}
}

// Converter parses newline delimited JSON bound to a single schema.
type Converter struct {
	schema  *schema.Schema
	idField string
}

// New builds a jsonl converter. Supported options: id_field.
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

// Parse wraps the stream in a lazy record iterator.
func (c *Converter) Parse(_ context.Context, r io.Reader, ec *convert.EvalContext) (convert.RecordIterator, error) {
	return &iterator{conv: c, dec: json.NewDecoder(r), ec: ec}, nil
}

type iterator struct {
	conv    *Converter
	dec     *json.Decoder
	ec      *convert.EvalContext
	pending *pool.Record
	err     error
	objects int
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

	var obj map[string]interface{}
	if err := i.dec.Decode(&obj); err != nil {
		if err != io.EOF {
			i.err = i.classify(err)
		}
		i.done = true
		return false
	}
	i.objects++

	rec, err := i.build(obj)
	if err != nil {
		i.err = i.annotate(errors.Wrapf(err, errors.ErrorTypeParse, "object %d", i.objects))
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

func (i *iterator) build(obj map[string]interface{}) (*pool.Record, error) {
	rec := pool.GetRecord()
	for _, f := range i.conv.schema.Fields {
		v, err := convert.CoerceField(f, obj[f.Name])
		if err != nil {
			rec.Release()
			return nil, err
		}
		rec.AppendValue(v)
	}

	if raw, ok := obj[i.conv.idField]; ok && raw != nil {
		rec.ID = convert.CoerceString(raw)
	}
	if rec.ID == "" {
		rec.ID = pool.GenerateID("rec")
	}

	rec.SetMetadata("object", strconv.Itoa(i.objects))
	return rec, nil
}

// classify separates malformed JSON from transport failures.
func (i *iterator) classify(err error) error {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &syn), stderrors.As(err, &typ), err == io.ErrUnexpectedEOF:
		return i.annotate(errors.Wrapf(err, errors.ErrorTypeParse, "malformed json after object %d", i.objects))
	default:
		return i.annotate(errors.Wrap(err, errors.ErrorTypeStreamRead, "reading json stream"))
	}
}

func (i *iterator) annotate(err error) error {
	var be *errors.Error
	if stderrors.As(err, &be) && i.ec != nil && i.ec.Provenance != "" {
		be.WithDetail("provenance", i.ec.Provenance)
	}
	return err
}
