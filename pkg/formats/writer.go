package formats

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// EncoderOptions describe the artifact being written.
type EncoderOptions struct {
	// Columns fixes the column order. Records may omit columns.
	Columns []string
	// ColumnTypes maps columns to typed Avro fields; missing columns are strings
	ColumnTypes map[string]core.ColumnType
	// SkipHeader suppresses the CSV header, used when appending to an existing file
	SkipHeader bool
	// RecordName names the Avro record
	RecordName string
}

// RecordEncoder writes records. Close flushes buffered output but does not
// close the underlying writer.
type RecordEncoder interface {
	Encode(record *core.Record) error
	Close() error
}

// NewEncoder creates an encoder for f writing to w.
func NewEncoder(w io.Writer, f Format, opts EncoderOptions) (RecordEncoder, error) {
	switch f {
	case CSV:
		return &csvEncoder{w: csv.NewWriter(w), opts: opts, wroteHeader: opts.SkipHeader}, nil
	case JSONL:
		return &jsonlEncoder{enc: json.NewEncoder(w), opts: opts}, nil
	case Avro:
		return newAvroEncoder(w, opts)
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported output format: %s", f))
	}
}

type csvEncoder struct {
	w           *csv.Writer
	opts        EncoderOptions
	wroteHeader bool
}

func (c *csvEncoder) Encode(record *core.Record) error {
	columns := c.opts.Columns
	if len(columns) == 0 {
		columns = record.Keys
		c.opts.Columns = columns
	}
	if !c.wroteHeader {
		if err := c.w.Write(columns); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV header")
		}
		c.wroteHeader = true
	}
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = stringify(record.Values[col])
	}
	if err := c.w.Write(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV row")
	}
	return nil
}

func (c *csvEncoder) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush CSV")
	}
	return nil
}

type jsonlEncoder struct {
	enc  *json.Encoder
	opts EncoderOptions
}

func (j *jsonlEncoder) Encode(record *core.Record) error {
	values := record.Values
	if len(j.opts.Columns) > 0 {
		values = make(map[string]interface{}, len(j.opts.Columns))
		for _, col := range j.opts.Columns {
			if v, ok := record.Values[col]; ok {
				values[col] = v
			}
		}
	}
	// Encoder.Encode terminates each value with a newline
	if err := j.enc.Encode(values); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write JSON line")
	}
	return nil
}

func (j *jsonlEncoder) Close() error { return nil }

const avroBlockSize = 500

type avroEncoder struct {
	ocf    *goavro.OCFWriter
	opts   EncoderOptions
	buffer []interface{}
}

func newAvroEncoder(w io.Writer, opts EncoderOptions) (*avroEncoder, error) {
	if len(opts.Columns) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "Avro output requires known columns")
	}
	schema, err := AvroSchema(opts)
	if err != nil {
		return nil, err
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Schema: schema, CompressionName: goavro.CompressionDeflateLabel})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create Avro writer")
	}
	return &avroEncoder{ocf: ocf, opts: opts, buffer: make([]interface{}, 0, avroBlockSize)}, nil
}

// AvroSchema builds a record schema with nullable fields from opts.
func AvroSchema(opts EncoderOptions) (string, error) {
	name := sanitizeAvroName(opts.RecordName)
	if name == "" {
		name = "record"
	}
	fields := make([]map[string]interface{}, 0, len(opts.Columns))
	for _, col := range opts.Columns {
		fields = append(fields, map[string]interface{}{
			"name":    sanitizeAvroName(col),
			"type":    []string{"null", avroTypeName(columnType(opts, col))},
			"default": nil,
		})
	}
	data, err := json.Marshal(map[string]interface{}{
		"type":   "record",
		"name":   name,
		"fields": fields,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to build Avro schema")
	}
	return string(data), nil
}

func (a *avroEncoder) Encode(record *core.Record) error {
	native := make(map[string]interface{}, len(a.opts.Columns))
	for _, col := range a.opts.Columns {
		t := columnType(a.opts, col)
		v, err := Coerce(record.Values[col], t)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFormat, fmt.Sprintf("column %s cannot be written as %s", col, t)).
				WithDetail("offset", record.Offset)
		}
		if v == nil {
			native[sanitizeAvroName(col)] = nil
		} else {
			native[sanitizeAvroName(col)] = goavro.Union(avroTypeName(t), v)
		}
	}
	a.buffer = append(a.buffer, native)
	if len(a.buffer) >= avroBlockSize {
		return a.flush()
	}
	return nil
}

func (a *avroEncoder) Close() error { return a.flush() }

func (a *avroEncoder) flush() error {
	if len(a.buffer) == 0 {
		return nil
	}
	if err := a.ocf.Append(a.buffer); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to write Avro block")
	}
	a.buffer = a.buffer[:0]
	return nil
}

func columnType(opts EncoderOptions, col string) core.ColumnType {
	if t, ok := opts.ColumnTypes[col]; ok && t != "" {
		return t
	}
	return core.ColumnString
}

func avroTypeName(t core.ColumnType) string {
	switch t {
	case core.ColumnDouble:
		return "double"
	case core.ColumnLong:
		return "long"
	case core.ColumnBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Coerce converts v to the Go type of a typed column: float64, int64, bool
// or string. nil stays nil.
func Coerce(v interface{}, t core.ColumnType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case core.ColumnDouble:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(n), 64)
		}
	case core.ColumnLong:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case uint64:
			if n > math.MaxInt64 {
				return nil, fmt.Errorf("value %d overflows a long", n)
			}
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		}
	case core.ColumnBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
	default:
		return stringify(v), nil
	}
	return nil, fmt.Errorf("unexpected value %v (%T)", v, v)
}

// sanitizeAvroName maps an arbitrary column name onto [A-Za-z_][A-Za-z0-9_]*.
func sanitizeAvroName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
