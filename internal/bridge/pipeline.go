package bridge

import (
	"bufio"
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/compression"
	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/metrics"
	"github.com/geobridge/geobridge/pkg/observability"
	"github.com/geobridge/geobridge/pkg/pool"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
)

// pipeline executes the per-invocation algorithm against the converter and
// writer handle the processor owns. It is rebuilt on every start so a new
// active phase never sees a previous cycle's handle.
type pipeline struct {
	conv       convert.Converter
	handle     sink.WriterHandle
	schema     *schema.Schema
	backend    string
	algorithm  compression.Algorithm
	bufferSize int
	logger     *zap.Logger
}

// run processes one unit of work to completion or first fault. Empty units
// are a no-op, not a failure. The unit's stream is closed on every exit
// path; records committed before a fault remain committed.
func (p *pipeline) run(ctx context.Context, unit *UnitOfWork) Outcome {
	if unit.Empty() {
		p.logger.Debug("empty unit of work skipped")
		return Outcome{Status: StatusNoOp}
	}

	start := time.Now()
	provenance := unit.Provenance()

	ctx, span := observability.StartUnit(ctx, provenance)

	outcome := p.process(ctx, unit, provenance)
	outcome.Provenance = provenance
	outcome.Duration = time.Since(start)

	metrics.ObserveUnit(string(outcome.Status), int(outcome.Records), p.schema.Name, outcome.Duration)
	observability.EndUnit(span, string(outcome.Status), outcome.Records, outcome.Err)

	if outcome.Err != nil {
		metrics.RecordFault(string(errors.GetType(outcome.Err)))
		p.logger.Error("unit of work failed",
			zap.String("provenance", provenance),
			zap.Int64("records_committed", outcome.Records),
			zap.Duration("duration", outcome.Duration),
			zap.Error(outcome.Err))
	} else {
		p.logger.Info("unit of work succeeded",
			zap.String("provenance", provenance),
			zap.Int64("records_committed", outcome.Records),
			zap.Duration("duration", outcome.Duration))
	}

	return outcome
}

// process opens the stream, parses it lazily and commits each record in
// emission order. The first fault stops the unit.
func (p *pipeline) process(ctx context.Context, unit *UnitOfWork, provenance string) Outcome {
	stream, err := unit.Open()
	if err != nil {
		fault := errors.Wrap(err, errors.ErrorTypeStreamRead, "failed to open unit stream").
			WithDetail("provenance", provenance)
		return Outcome{Status: StatusFailed, Err: fault}
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			p.logger.Warn("unit stream close failed",
				zap.String("provenance", provenance),
				zap.Error(cerr))
		}
	}()

	reader, err := p.wrapStream(stream, unit.Filename())
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			err = e.WithDetail("provenance", provenance)
		}
		return Outcome{Status: StatusFailed, Err: err}
	}
	defer reader.Close()

	ec := p.conv.NewContext(provenance)
	it, err := p.conv.Parse(ctx, reader, ec)
	if err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}
	defer it.Close()

	var committed int64
	for it.Next() {
		rec := it.Record()
		err := p.commit(ctx, rec)
		rec.Release()
		if err != nil {
			return Outcome{Status: StatusFailed, Records: committed, Err: err}
		}
		committed++
	}
	if err := it.Err(); err != nil {
		return Outcome{Status: StatusFailed, Records: committed, Err: err}
	}

	return Outcome{Status: StatusSucceeded, Records: committed}
}

// wrapStream layers buffering and decompression over the raw unit stream.
// The returned ReadCloser never closes the unit stream itself.
func (p *pipeline) wrapStream(stream io.Reader, filename string) (io.ReadCloser, error) {
	algorithm := p.algorithm
	if algorithm == compression.Auto {
		algorithm = compression.Sniff(filename)
	}
	if p.bufferSize > 0 {
		stream = bufio.NewReaderSize(stream, p.bufferSize)
	}
	return compression.NewReader(algorithm, stream)
}

// commit stages one record into a fresh slot and commits it. Each commit is
// independently durable.
func (p *pipeline) commit(ctx context.Context, rec *pool.Record) error {
	slot := p.handle.NewSlot()
	slot.SetID(rec.ID)
	slot.SetValues(rec.Values)
	slot.SetMetadata(rec.Metadata)

	start := time.Now()
	if err := p.handle.Commit(ctx, slot); err != nil {
		return err
	}
	metrics.CommitDuration.WithLabelValues(p.backend).Observe(time.Since(start).Seconds())
	return nil
}
