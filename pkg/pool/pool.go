// Package pool provides object pooling for the record hot path.
// Converted records are transient: a converter acquires one per parsed
// input record, the pipeline commits it to the sink and releases it back
// to the pool, keeping per-record allocations off the steady state.
//
// Example usage:
//
//	record := pool.GetRecord()
//	defer record.Release()
//
//	record.ID = pool.GenerateID("rec")
//	record.AppendValue("a")
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and automatic reset.
// The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
		misses    int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The new function is called when the pool is empty; the reset function is
// called before an object is returned to the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   new,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	obj := p.pool.Get().(T)
	atomic.AddInt64(&p.stats.hits, 1)
	return obj
}

// Put returns an object to the pool for reuse, resetting it first when a
// reset function was provided.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() (allocated, inUse, hits, misses int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits),
		atomic.LoadInt64(&p.stats.misses)
}

// Record is one converted unit of input: an identifier, the attribute
// values in schema field order, and auxiliary string metadata carried
// through to the sink slot. Records must be obtained from the global pool
// with GetRecord rather than created directly.
type Record struct {
	// ID is the record identifier written to the sink slot
	ID string
	// Values holds attribute values positionally, in schema field order
	Values []interface{}
	// Metadata carries auxiliary key/value pairs merged into the slot
	Metadata map[string]string
}

// RecordPool provides pooling for Record objects. Values keep their
// capacity across reuse; metadata maps are cleared, not reallocated.
var RecordPool = New(
	func() *Record {
		return &Record{
			Values: make([]interface{}, 0, 16),
		}
	},
	func(r *Record) {
		r.ID = ""
		for i := range r.Values {
			r.Values[i] = nil
		}
		r.Values = r.Values[:0]
		for k := range r.Metadata {
			delete(r.Metadata, k)
		}
	},
)

// idCounter provides atomic unique ID generation
var idCounter uint64

// idBufferPool provides pooling for ID generation buffers
var idBufferPool = New(
	func() []byte {
		return make([]byte, 0, 64)
	},
	nil,
)

// GetRecord retrieves a Record from the global pool. The record must be
// returned with PutRecord or record.Release when no longer needed.
func GetRecord() *Record {
	r := RecordPool.Get()
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, 4)
	}
	return r
}

// PutRecord returns a Record to the global pool for reuse.
// Safe to call with nil.
func PutRecord(record *Record) {
	if record != nil {
		RecordPool.Put(record)
	}
}

// AppendValue appends one attribute value in schema order.
func (r *Record) AppendValue(v interface{}) {
	r.Values = append(r.Values, v)
}

// SetMetadata sets one auxiliary metadata entry.
func (r *Record) SetMetadata(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, 4)
	}
	r.Metadata[key] = value
}

// Release returns the record to the pool. Call when the record has been
// committed or discarded, typically via defer.
func (r *Record) Release() {
	PutRecord(r)
}

// GenerateID generates a unique ID with the specified prefix using pooled
// buffers. The format is "prefix-number" with an atomic counter; converters
// use it when the input carries no identifier of its own. Safe for
// concurrent use.
func GenerateID(prefix string) string {
	buf := idBufferPool.Get()
	defer idBufferPool.Put(buf[:0])

	id := atomic.AddUint64(&idCounter, 1)

	buf = append(buf, prefix...)
	buf = append(buf, '-')
	buf = appendUint64(buf, id)

	return string(buf)
}

// appendUint64 efficiently appends uint64 to byte slice
func appendUint64(buf []byte, n uint64) []byte {
	if n == 0 {
		return append(buf, '0')
	}

	temp := n
	digits := 0
	for temp > 0 {
		temp /= 10
		digits++
	}

	start := len(buf)
	buf = buf[:start+digits]

	for i := digits - 1; i >= 0; i-- {
		buf[start+i] = byte('0' + n%10)
		n /= 10
	}

	return buf
}

// Stats represents pool statistics for monitoring.
type Stats struct {
	Allocated int64
	InUse     int64
	Hits      int64
	Misses    int64
}

// GetGlobalStats returns statistics for the global record pool, useful for
// detecting leaked records in start/stop cycles.
func GetGlobalStats() map[string]Stats {
	recordAlloc, recordInUse, recordHits, recordMisses := RecordPool.Stats()

	return map[string]Stats{
		"record": {
			Allocated: recordAlloc,
			InUse:     recordInUse,
			Hits:      recordHits,
			Misses:    recordMisses,
		},
	}
}
