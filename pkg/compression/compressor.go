// Package compression wraps streams in the compression codecs datapkg can
// read from sources and write to sinks.
//
// # Supported algorithms
//
//   - Gzip, Deflate: klauspost/compress drop-in implementations
//   - Zstd, Snappy (framed), S2: klauspost/compress
//   - LZ4 (frame format): pierrec/lz4
//
// Sources detect the algorithm from a Content-Encoding header, a file
// extension or a mime type; sinks pick it from configuration.
//
// # Basic Usage
//
//	alg := compression.Detect("", "people.csv.gz", "")
//	r, err := compression.NewReader(body, alg)
//	defer r.Close()
package compression

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, trading speed for ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

var extensions = map[Algorithm]string{
	Gzip:    ".gz",
	Snappy:  ".sz",
	LZ4:     ".lz4",
	Zstd:    ".zst",
	S2:      ".s2",
	Deflate: ".deflate",
}

var mimeTypes = map[string]Algorithm{
	"application/gzip":            Gzip,
	"application/x-gzip":          Gzip,
	"application/zstd":            Zstd,
	"application/x-lz4":           LZ4,
	"application/x-snappy-framed": Snappy,
}

// Parse converts a configuration value into an Algorithm. "" means None.
func Parse(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return a, nil
	default:
		return None, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported compression algorithm: %s", name))
	}
}

// Extension returns the file extension for a, including the dot, or "".
func Extension(a Algorithm) string {
	return extensions[a]
}

// Detect infers the algorithm from a content encoding, a file name or a mime
// type, in that order of precedence.
func Detect(encoding, name, mimeType string) Algorithm {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return Gzip
	case "deflate":
		return Deflate
	case "zstd":
		return Zstd
	}

	ext := strings.ToLower(path.Ext(name))
	for a, e := range extensions {
		if e == ext {
			return a
		}
	}

	if a, ok := mimeTypes[strings.ToLower(baseMime(mimeType))]; ok {
		return a
	}
	return None
}

// StripExtension removes the compression extension of a from name.
func StripExtension(name string, a Algorithm) string {
	return strings.TrimSuffix(name, Extension(a))
}

func baseMime(m string) string {
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}

// NewReader returns a reader that decompresses src. Closing it does not close src.
func NewReader(src io.Reader, a Algorithm) (io.ReadCloser, error) {
	switch a {
	case None, "":
		return io.NopCloser(src), nil
	case Gzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "invalid gzip stream")
		}
		return r, nil
	case Deflate:
		return flate.NewReader(src), nil
	case Zstd:
		d, err := zstd.NewReader(src)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "invalid zstd stream")
		}
		return zstdReadCloser{d}, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	default:
		return nil, errors.New(errors.ErrorTypeFormat, fmt.Sprintf("unsupported compression algorithm: %s", a))
	}
}

// NewWriter returns a writer compressing into dst. Close flushes the codec
// but does not close dst.
func NewWriter(dst io.Writer, a Algorithm, level Level) (io.WriteCloser, error) {
	switch a {
	case None, "":
		return nopWriteCloser{dst}, nil
	case Gzip:
		return gzip.NewWriterLevel(dst, mapGzipLevel(level))
	case Deflate:
		return flate.NewWriter(dst, mapGzipLevel(level))
	case Zstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case Snappy:
		return snappy.NewBufferedWriter(dst), nil
	case S2:
		return s2.NewWriter(dst), nil
	case LZ4:
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid lz4 level")
		}
		return w, nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported compression algorithm: %s", a))
	}
}

type zstdReadCloser struct{ d *zstd.Decoder }

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.d.Read(p) }
func (z zstdReadCloser) Close() error {
	z.d.Close()
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	case Better:
		return 7
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
