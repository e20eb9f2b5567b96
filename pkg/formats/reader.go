package formats

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// ReaderOptions tune decoding.
type ReaderOptions struct {
	// Delimiter for CSV, defaults to ','
	Delimiter rune
}

// NewReader decodes records of format f from r.
func NewReader(r io.Reader, f Format, opts ReaderOptions) (RecordReader, error) {
	switch f {
	case CSV:
		return newCSVReader(r, opts)
	case JSONL:
		return &jsonlReader{scanner: newLineScanner(r)}, nil
	case JSON:
		return newJSONReader(r)
	case Avro:
		return newAvroReader(r)
	default:
		return nil, errors.New(errors.ErrorTypeFormat, fmt.Sprintf("unsupported input format: %s", f))
	}
}

type csvReader struct {
	r      *csv.Reader
	header []string
	offset int64
}

func newCSVReader(r io.Reader, opts ReaderOptions) (*csvReader, error) {
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return &csvReader{r: cr}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read CSV header")
	}
	return &csvReader{r: cr, header: header}, nil
}

func (c *csvReader) Next() (*core.Record, error) {
	if c.header == nil {
		return nil, io.EOF
	}
	row, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read CSV row").WithDetail("offset", c.offset)
	}

	values := make(map[string]interface{}, len(c.header))
	for i, key := range c.header {
		if i >= len(row) || row[i] == "" {
			values[key] = nil
			continue
		}
		values[key] = row[i]
	}
	rec := &core.Record{Keys: c.header, Values: values, Offset: c.offset}
	c.offset++
	return rec, nil
}

func (c *csvReader) Close() error { return nil }

const maxLineSize = 16 * 1024 * 1024

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return s
}

type jsonlReader struct {
	scanner *bufio.Scanner
	offset  int64
	line    int64
}

func (j *jsonlReader) Next() (*core.Record, error) {
	for j.scanner.Scan() {
		j.line++
		line := bytes.TrimSpace(j.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		values, err := decodeObject(line)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode JSON line").WithDetail("line", j.line)
		}
		rec := newRecord(values, j.offset)
		j.offset++
		return rec, nil
	}
	if err := j.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read JSON lines")
	}
	return nil, io.EOF
}

func (j *jsonlReader) Close() error { return nil }

// jsonReader reads a top level array of objects, or a single object.
type jsonReader struct {
	dec    *json.Decoder
	single map[string]interface{}
	offset int64
	done   bool
}

func newJSONReader(r io.Reader) (*jsonReader, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return &jsonReader{done: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read JSON document")
	}
	switch tok {
	case json.Delim('['):
		return &jsonReader{dec: dec}, nil
	case json.Delim('{'):
		// re-decode the remaining object members one by one
		obj := map[string]interface{}{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read JSON object")
			}
			key, _ := keyTok.(string)
			var v interface{}
			if err := dec.Decode(&v); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read JSON object")
			}
			obj[key] = normalize(v)
		}
		return &jsonReader{single: obj}, nil
	default:
		return nil, errors.New(errors.ErrorTypeFormat, "JSON document must be an array or an object")
	}
}

func (j *jsonReader) Next() (*core.Record, error) {
	if j.done {
		return nil, io.EOF
	}
	if j.single != nil {
		j.done = true
		return newRecord(j.single, 0), nil
	}
	if !j.dec.More() {
		j.done = true
		return nil, io.EOF
	}
	var v map[string]interface{}
	if err := j.dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode JSON array element").WithDetail("offset", j.offset)
	}
	for k, val := range v {
		v[k] = normalize(val)
	}
	rec := newRecord(v, j.offset)
	j.offset++
	return rec, nil
}

func (j *jsonReader) Close() error { return nil }

type avroReader struct {
	ocf    *goavro.OCFReader
	keys   []string
	offset int64
}

func newAvroReader(r io.Reader) (*avroReader, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to open Avro container")
	}
	return &avroReader{ocf: ocf, keys: avroFieldNames(ocf.Codec().Schema())}, nil
}

func (a *avroReader) Next() (*core.Record, error) {
	if !a.ocf.Scan() {
		if err := a.ocf.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read Avro block")
		}
		return nil, io.EOF
	}
	datum, err := a.ocf.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode Avro record").WithDetail("offset", a.offset)
	}
	native, ok := datum.(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypeFormat, "Avro datum is not a record")
	}
	values := make(map[string]interface{}, len(native))
	for k, v := range native {
		values[k] = unwrapUnion(v)
	}
	keys := a.keys
	if len(keys) == 0 {
		keys = sortedKeys(values)
	}
	rec := &core.Record{Keys: keys, Values: values, Offset: a.offset}
	a.offset++
	return rec, nil
}

func (a *avroReader) Close() error { return nil }

func avroFieldNames(schema string) []string {
	var parsed struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(schema), &parsed); err != nil {
		return nil
	}
	names := make([]string, 0, len(parsed.Fields))
	for _, f := range parsed.Fields {
		names = append(names, f.Name)
	}
	return names
}

// unwrapUnion turns goavro's {"type": value} union encoding into the value.
func unwrapUnion(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok && len(m) == 1 {
		for _, inner := range m {
			return inner
		}
	}
	return v
}

func decodeObject(line []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var v map[string]interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	for k, val := range v {
		v[k] = normalize(val)
	}
	return v, nil
}

// normalize converts json.Number into int64 or float64.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return u
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

func newRecord(values map[string]interface{}, offset int64) *core.Record {
	return &core.Record{Keys: sortedKeys(values), Values: values, Offset: offset}
}

func sortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
