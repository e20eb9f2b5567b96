// Package formats decodes stream payloads into records and encodes records
// into the artifacts sinks write.
package formats

import (
	"fmt"
	"path"
	"strings"

	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Format is a record serialization format.
type Format string

const (
	CSV   Format = "csv"
	JSONL Format = "jsonl"
	JSON  Format = "json"
	Avro  Format = "avro"
)

var byExtension = map[string]Format{
	".csv":    CSV,
	".tsv":    CSV,
	".jsonl":  JSONL,
	".ndjson": JSONL,
	".json":   JSON,
	".avro":   Avro,
}

var byMime = map[string]Format{
	"text/csv":                  CSV,
	"application/csv":           CSV,
	"text/tab-separated-values": CSV,
	"application/x-ndjson":      JSONL,
	"application/jsonl":         JSONL,
	"application/json":          JSON,
	"application/avro":          Avro,
	"avro/binary":               Avro,
}

// Detect picks a format from a file name, falling back to the mime type.
// The name must already have any compression extension removed.
func Detect(name, mimeType string) (Format, error) {
	if f, ok := byExtension[strings.ToLower(path.Ext(name))]; ok {
		return f, nil
	}
	m := mimeType
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	if f, ok := byMime[strings.ToLower(strings.TrimSpace(m))]; ok {
		return f, nil
	}
	return "", errors.New(errors.ErrorTypeFormat, fmt.Sprintf("cannot determine the format of %q (%s)", name, mimeType)).
		WithDetail("name", name).
		WithDetail("mime_type", mimeType)
}

// Parse converts a configuration value into a writable Format.
func Parse(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case CSV, JSONL, Avro:
		return f, nil
	default:
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported output format: %s", name))
	}
}

// Extension returns the file extension written for f.
func Extension(f Format) string {
	return "." + string(f)
}

// MimeType returns the content type written for f.
func MimeType(f Format) string {
	switch f {
	case CSV:
		return "text/csv"
	case JSONL:
		return "application/x-ndjson"
	case Avro:
		return "application/avro"
	default:
		return "application/octet-stream"
	}
}

// Appendable reports whether new records can be appended to an existing artifact.
func Appendable(f Format) bool {
	return f == CSV || f == JSONL
}

// RecordReader yields records until io.EOF.
type RecordReader interface {
	Next() (*core.Record, error)
	Close() error
}
