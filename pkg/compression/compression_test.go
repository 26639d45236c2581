package compression

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		filename string
		want     Algorithm
	}{
		{"obs.csv.gz", Gzip},
		{"obs.csv.zst", Zstd},
		{"obs.csv.sz", Snappy},
		{"obs.csv.s2", S2},
		{"obs.csv.lz4", LZ4},
		{"obs.csv", None},
		{"", None},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.filename))
		})
	}
}

func TestParse(t *testing.T) {
	alg, err := Parse("GZIP")
	require.NoError(t, err)
	assert.Equal(t, Gzip, alg)

	alg, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	_, err = Parse("brotli")
	require.Error(t, err)
}

func roundTrip(t *testing.T, algorithm Algorithm, compress func(w io.Writer) io.WriteCloser) {
	t.Helper()

	payload := []byte("a,2020-01-01T00:00:00Z,10,20\nb,2020-01-02T00:00:00Z,11,21\n")

	var buf bytes.Buffer
	w := compress(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(algorithm, &buf)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestNewReaderGzip(t *testing.T) {
	roundTrip(t, Gzip, func(w io.Writer) io.WriteCloser {
		return gzip.NewWriter(w)
	})
}

func TestNewReaderZstd(t *testing.T) {
	roundTrip(t, Zstd, func(w io.Writer) io.WriteCloser {
		zw, err := zstd.NewWriter(w)
		require.NoError(t, err)
		return zw
	})
}

func TestNewReaderS2(t *testing.T) {
	roundTrip(t, S2, func(w io.Writer) io.WriteCloser {
		return s2.NewWriter(w)
	})
}

func TestNewReaderLZ4(t *testing.T) {
	roundTrip(t, LZ4, func(w io.Writer) io.WriteCloser {
		return lz4.NewWriter(w)
	})
}

func TestNewReaderNone(t *testing.T) {
	r, err := NewReader(None, bytes.NewBufferString("plain"))
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(got))
}

func TestNewReaderAutoRejected(t *testing.T) {
	_, err := NewReader(Auto, bytes.NewBufferString(""))
	require.Error(t, err)
}

func TestNewReaderBadGzipHeader(t *testing.T) {
	_, err := NewReader(Gzip, bytes.NewBufferString("not gzip"))
	require.Error(t, err)
}
