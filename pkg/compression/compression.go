// Package compression provides streaming decompression for incoming unit
// byte streams. The algorithm is either configured explicitly or sniffed
// from the unit's filename attribute.
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip
package compression

import (
	"compress/gzip"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/geobridge/geobridge/pkg/errors"
)

// Algorithm represents a stream compression algorithm.
type Algorithm string

const (
	// None passes the stream through untouched
	None Algorithm = "none"
	// Auto sniffs the algorithm from the filename extension
	Auto Algorithm = "auto"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy stream compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Parse normalizes a configured algorithm name. Empty means None.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(name)) {
	case "":
		return None, nil
	case None, Auto, Gzip, Snappy, LZ4, Zstd, S2:
		return Algorithm(strings.ToLower(name)), nil
	default:
		return None, errors.Newf(errors.ErrorTypeConfig, "unknown compression algorithm %q", name)
	}
}

// Sniff returns the algorithm implied by a filename extension, or None.
func Sniff(filename string) Algorithm {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gz", ".gzip":
		return Gzip
	case ".sz", ".snappy":
		return Snappy
	case ".lz4":
		return LZ4
	case ".zst", ".zstd":
		return Zstd
	case ".s2":
		return S2
	default:
		return None
	}
}

// NewReader wraps r with the decompressor for the given algorithm. Auto must
// be resolved with Sniff before calling. The returned ReadCloser closes only
// decompressor state, never the underlying stream; the caller still owns r.
func NewReader(algorithm Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStreamRead, "failed to open gzip stream")
		}
		return gz, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStreamRead, "failed to open zstd stream")
		}
		return zr.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case Auto:
		return nil, errors.New(errors.ErrorTypeInternal, "auto algorithm must be resolved with Sniff before NewReader")
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown compression algorithm %q", algorithm)
	}
}
