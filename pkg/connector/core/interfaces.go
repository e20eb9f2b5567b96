package core

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource ConnectorType = "source"
	ConnectorTypeSink   ConnectorType = "sink"
)

// UpdateMethod is how a sink applies a new delivery to existing content.
type UpdateMethod string

const (
	// UpdateMethodBatchFullSet replaces the destination content on every run.
	UpdateMethodBatchFullSet UpdateMethod = "BATCH_FULL_SET"
	// UpdateMethodAppendOnlyLog appends only records not yet delivered.
	UpdateMethodAppendOnlyLog UpdateMethod = "APPEND_ONLY_LOG"
)

// StreamSetProcessingMethod is the unit a sink writes at once.
type StreamSetProcessingMethod string

const (
	// ProcessPerStreamSet writes all streams of a set into one artifact.
	ProcessPerStreamSet StreamSetProcessingMethod = "PER_STREAM_SET"
	// ProcessPerStream writes one artifact per stream.
	ProcessPerStream StreamSetProcessingMethod = "PER_STREAM"
)

// ColumnType is the storage type of a column for typed destinations such as
// Avro files and database tables.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnDouble  ColumnType = "double"
	ColumnLong    ColumnType = "long"
	ColumnBoolean ColumnType = "boolean"
)

// Record is one row read from a stream. Keys preserves column order.
type Record struct {
	Keys   []string
	Values map[string]interface{}
	// Offset is the zero based position of the record within its stream
	Offset int64
}

// OpenedStream is the payload of a stream once opened.
type OpenedStream struct {
	Reader io.ReadCloser
	// Size is -1 when unknown
	Size        int64
	MimeType    string
	Encoding    string
	Fingerprint string
}

// Opener lazily opens a stream's payload.
type Opener func(ctx context.Context) (*OpenedStream, error)

// StreamDescriptor is what discovery learns about a stream without
// transferring its payload.
type StreamDescriptor struct {
	Name          string
	Locator       string
	StreamSetSlug string
	// Size is -1 when unknown
	Size        int64
	MimeType    string
	Fingerprint string

	opener Opener
}

// NewStreamDescriptor builds a descriptor with a lazy opener.
func NewStreamDescriptor(name, locator, streamSetSlug string, opener Opener) *StreamDescriptor {
	return &StreamDescriptor{Name: name, Locator: locator, StreamSetSlug: streamSetSlug, Size: -1, opener: opener}
}

// Open transfers the payload. Opening may refresh the fingerprint, e.g. an
// ETag returned by GET overrides a Last-Modified seen during discovery.
func (d *StreamDescriptor) Open(ctx context.Context) (*OpenedStream, error) {
	s, err := d.opener(ctx)
	if err != nil {
		return nil, err
	}
	if s.Fingerprint == "" {
		s.Fingerprint = d.Fingerprint
	}
	if s.MimeType == "" {
		s.MimeType = d.MimeType
	}
	return s, nil
}

// Source discovers and opens streams in an external repository.
type Source interface {
	// Type is the registry name of the connector.
	Type() string
	// RepositoryIdentifier names the repository a connection points at,
	// e.g. the host of a URL, so its configuration can be saved and reused.
	RepositoryIdentifier(connection config.Values) (string, error)
	// Discover probes metadata only and never transfers payloads.
	Discover(ctx context.Context, connection, credentials, configuration config.Values) ([]*StreamDescriptor, error)
}

// SinkStreamOptions lists what a sink supports for a configuration.
type SinkStreamOptions struct {
	UpdateMethods              []UpdateMethod
	StreamSetProcessingMethods []StreamSetProcessingMethod
}

// Supports reports whether m is among the supported update methods.
func (o SinkStreamOptions) Supports(m UpdateMethod) bool {
	for _, u := range o.UpdateMethods {
		if u == m {
			return true
		}
	}
	return false
}

// WriteTarget describes one artifact to write.
type WriteTarget struct {
	Key            state.Key
	PackageVersion string
	StreamSetSlug  string
	// StreamName is empty when processing per stream set
	StreamName  string
	SchemaTitle string
	Columns     []string
	// ColumnTypes is derived from the inferred value types; missing columns are strings
	ColumnTypes  map[string]ColumnType
	UpdateMethod UpdateMethod
	// Append is true when earlier deliveries must be kept
	Append bool
}

// CommitResult is where a committed artifact ended up.
type CommitResult struct {
	Location string
	Records  int64
	Bytes    int64
}

// RecordWriter receives the records of one artifact.
type RecordWriter interface {
	Write(ctx context.Context, record *Record) error
	// Commit makes the artifact durable at its final location.
	Commit(ctx context.Context) (*CommitResult, error)
	// Abort releases resources after a failure without committing.
	Abort(ctx context.Context) error
}

// Sink delivers records to a destination and keeps resumable state there.
type Sink interface {
	Type() string
	SupportedStreamOptions(configuration config.Values, prior *state.SinkState) SinkStreamOptions
	OpenWriter(ctx context.Context, target WriteTarget) (RecordWriter, error)
	// ReadState returns nil when no state exists for key.
	ReadState(ctx context.Context, key state.Key) ([]byte, error)
	WriteState(ctx context.Context, key state.Key, blob []byte) error
	Close(ctx context.Context) error
}

// SinkSettings carries validated parameter values into a sink factory.
type SinkSettings struct {
	Connection    config.Values
	Credentials   config.Values
	Configuration config.Values
	// DataDir is the default local root for output and scratch artifacts
	DataDir string
	Logger  *zap.Logger
}
