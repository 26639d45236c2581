package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/compression"
	"github.com/geobridge/geobridge/pkg/config"
	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/logger"
	"github.com/geobridge/geobridge/pkg/metrics"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
)

// State represents the processor lifecycle state.
type State string

const (
	// StateStopped is the initial and final state
	StateStopped State = "stopped"
	// StateInitializing covers the startup chain
	StateInitializing State = "initializing"
	// StateActive accepts invocations
	StateActive State = "active"
)

// Processor owns the bridge lifecycle. Each active phase holds exactly one
// resolved schema, one converter, one backend connection and one writer
// handle; Stop releases them all, and a later Start builds fresh ones.
type Processor struct {
	cfg *config.Config

	mu     sync.Mutex
	state  State
	schema *schema.Schema
	conv   convert.Converter
	conn   sink.Conn
	handle sink.WriterHandle
	pipe   *pipeline

	logger *zap.Logger
}

// NewProcessor creates a stopped processor around the configuration.
// Nothing is resolved or connected until Start.
func NewProcessor(cfg *config.Config) *Processor {
	return &Processor{
		cfg:   cfg,
		state: StateStopped,
		logger: logger.Get().With(
			zap.String("component", "processor"),
			zap.String("name", cfg.Name)),
	}
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start drives STOPPED through INITIALIZING to ACTIVE: validate the
// configuration, resolve the schema, connect the backend and provision the
// schema, build the converter, open the writer handle. Any failure releases
// everything acquired so far and returns the processor to STOPPED; there is
// no partial active state.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return errors.Newf(errors.ErrorTypeInternal, "cannot start processor in state %s", p.state)
	}

	p.state = StateInitializing
	p.logger.Info("processor initializing",
		zap.String("backend", p.cfg.Sink.Backend))

	if err := p.initialize(ctx); err != nil {
		p.release()
		p.state = StateStopped
		p.logger.Error("processor startup failed", zap.Error(err))
		return err
	}

	p.state = StateActive
	metrics.SetProcessorActive(true)
	p.logger.Info("processor active",
		zap.String("schema", p.schema.Name),
		zap.String("backend", p.cfg.Sink.Backend),
		zap.Strings("fields", p.schema.FieldNames()))
	return nil
}

// initialize runs the startup chain in order. Called with the lock held;
// on error the caller releases whatever was acquired.
func (p *Processor) initialize(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}

	algorithm, err := compression.Parse(p.cfg.Input.Compression)
	if err != nil {
		return err
	}

	s, err := schema.Resolve(schema.GetRegistry(), schema.ResolveOptions{
		Name:             p.cfg.Schema.Name,
		InlineSpec:       p.cfg.Schema.InlineSpec,
		TypeNameOverride: p.cfg.Schema.TypeNameOverride,
	})
	if err != nil {
		return err
	}
	p.schema = s

	backend, err := sink.Get(p.cfg.Sink.Backend)
	if err != nil {
		return err
	}

	conn, err := backend.Connect(ctx, sink.ParamsFromConfig(p.cfg))
	if err != nil {
		return err
	}
	p.conn = conn

	if err := conn.EnsureSchema(ctx, s); err != nil {
		return err
	}

	conv, err := convert.Resolve(convert.GetRegistry(), convert.ResolveOptions{
		Name:       p.cfg.Converter.Name,
		InlineSpec: p.cfg.Converter.InlineSpec,
	}, s)
	if err != nil {
		return err
	}
	p.conv = conv

	handle, err := conn.OpenWriter(ctx, s.Name)
	if err != nil {
		return err
	}
	p.handle = handle

	p.pipe = &pipeline{
		conv:       conv,
		handle:     handle,
		schema:     s,
		backend:    p.cfg.Sink.Backend,
		algorithm:  algorithm,
		bufferSize: p.cfg.Input.BufferSize,
		logger:     p.logger,
	}
	return nil
}

// Invoke processes one unit of work and reports its outcome. Invocations
// are serialized on the processor mutex: the writer handle is the
// bottleneck resource and is not safe for concurrent use. Faults never
// panic through; they come back inside the outcome.
func (p *Processor) Invoke(ctx context.Context, unit *UnitOfWork) (outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateActive {
		return Outcome{
			Status:     StatusFailed,
			Provenance: unit.Provenance(),
			Err:        errors.Newf(errors.ErrorTypeInternal, "invocation rejected: processor is %s", p.state),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("invocation panicked",
				zap.Any("panic", r),
				zap.String("provenance", unit.Provenance()))
			outcome = Outcome{
				Status:     StatusFailed,
				Provenance: unit.Provenance(),
				Err:        errors.Newf(errors.ErrorTypeInternal, "panic during invocation: %v", r),
			}
		}
	}()

	return p.pipe.run(ctx, unit)
}

// Stop closes the writer handle, closes the backend connection and drops
// the converter. Stopping a stopped processor is a no-op; an in-flight
// invocation finishes first because Stop queues on the same mutex.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return nil
	}

	err := p.release()
	p.state = StateStopped
	metrics.SetProcessorActive(false)
	if err != nil {
		p.logger.Warn("processor stopped with release errors", zap.Error(err))
		return err
	}
	p.logger.Info("processor stopped")
	return nil
}

// release closes acquired resources in reverse acquisition order and drops
// the references. Handle close is idempotent, so release is safe after a
// partial startup. Returns the first close error.
func (p *Processor) release() error {
	var firstErr error

	if p.handle != nil {
		if err := p.handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.handle = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conn = nil
	}
	p.conv = nil
	p.schema = nil
	p.pipe = nil

	return firstErr
}
