// Package base provides what the concrete connectors share: BaseSink for
// output settings and artifact naming, ArtifactWriter for serializing records
// into a local file, RelocatingWriter for the scratch, upload, delete
// delivery sequence, and OpenAll for opening source streams concurrently.
//
// # Usage
//
// Sinks embed BaseSink and build their writers from it:
//
//	type MySink struct {
//	    *base.BaseSink
//	    client *myclient.Client
//	}
//
//	func NewMySink(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
//	    b, err := base.NewBaseSink("my-sink", settings)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &MySink{BaseSink: b}, nil
//	}
package base

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/compression"
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/logger"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// OutputParameters are the configuration parameters every file producing
// sink accepts. Sinks append their own.
var OutputParameters = config.ParameterSchema{
	{
		Name:    "format",
		Message: "Output format?",
		Type:    config.ParameterTypeString,
		Default: string(formats.CSV),
		Options: []string{string(formats.CSV), string(formats.JSONL), string(formats.Avro)},
	},
	{
		Name:    "compression",
		Message: "Output compression?",
		Type:    config.ParameterTypeString,
		Default: string(compression.None),
		Options: []string{
			string(compression.None), string(compression.Gzip), string(compression.Zstd),
			string(compression.LZ4), string(compression.Snappy), string(compression.S2),
		},
	},
}

// BaseSink holds the settings shared by sinks that write file artifacts.
type BaseSink struct {
	name        string
	logger      *zap.Logger
	dataDir     string
	format      formats.Format
	compression compression.Algorithm
	level       compression.Level
}

// NewBaseSink parses the shared output parameters from settings.
func NewBaseSink(name string, settings core.SinkSettings) (*BaseSink, error) {
	format, err := formats.Parse(stringOr(settings.Configuration.GetString("format"), string(formats.CSV)))
	if err != nil {
		return nil, err
	}
	alg, err := compression.Parse(settings.Configuration.GetString("compression"))
	if err != nil {
		return nil, err
	}

	l := settings.Logger
	if l == nil {
		l = logger.Get()
	}
	return &BaseSink{
		name:        name,
		logger:      l,
		dataDir:     settings.DataDir,
		format:      format,
		compression: alg,
		level:       compression.Default,
	}, nil
}

// Type returns the registry name of the sink.
func (b *BaseSink) Type() string { return b.name }

// Logger returns the sink's logger.
func (b *BaseSink) Logger() *zap.Logger { return b.logger }

// Format returns the configured output format.
func (b *BaseSink) Format() formats.Format { return b.format }

// Compression returns the configured output compression.
func (b *BaseSink) Compression() compression.Algorithm { return b.compression }

// UpdateMethods lists the update methods the configured output can honor.
// Appending needs a format that can be extended in place and a codec whose
// streams may be concatenated.
func (b *BaseSink) UpdateMethods() []core.UpdateMethod {
	if formats.Appendable(b.format) && b.compression != compression.Deflate {
		return []core.UpdateMethod{core.UpdateMethodBatchFullSet, core.UpdateMethodAppendOnlyLog}
	}
	return []core.UpdateMethod{core.UpdateMethodBatchFullSet}
}

// KeyPath is "<catalog>/<package>/v<major>", with the no-catalog placeholder
// for packages outside a catalog.
func KeyPath(key state.Key) string {
	catalog := key.CatalogSlug
	if catalog == "" {
		catalog = state.NoCatalog
	}
	return filepath.Join(catalog, key.PackageSlug, "v"+strconv.FormatUint(key.MajorVersion, 10))
}

// Directory is the default local output directory for key.
func (b *BaseSink) Directory(key state.Key) string {
	return filepath.Join(b.dataDir, KeyPath(key))
}

// ScratchDirectory is where artifacts are staged before relocation.
func (b *BaseSink) ScratchDirectory(key state.Key) string {
	return filepath.Join(b.dataDir, "scratch", KeyPath(key))
}

// ArtifactBaseName names the artifact of a target without extensions: the
// stream when writing per stream, otherwise the schema.
func ArtifactBaseName(target core.WriteTarget) string {
	name := target.SchemaTitle
	if target.StreamName != "" {
		name = target.StreamName
	}
	if slug := packagefile.Slugify(name); slug != "" {
		return slug
	}
	return "records"
}

// ArtifactName is the base name plus format and compression extensions.
func (b *BaseSink) ArtifactName(target core.WriteTarget) string {
	return ArtifactBaseName(target) + formats.Extension(b.format) + compression.Extension(b.compression)
}

// ObjectKey is the object store key of the artifact of target below prefix.
// Objects cannot be extended in place, so appending targets get one object
// per delivery below the artifact's name, named by the delivery time.
func (b *BaseSink) ObjectKey(prefix string, target core.WriteTarget, now time.Time) string {
	dir := path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(KeyPath(target.Key)))
	if target.UpdateMethod == core.UpdateMethodAppendOnlyLog {
		ext := formats.Extension(b.format) + compression.Extension(b.compression)
		return path.Join(dir, ArtifactBaseName(target), strconv.FormatInt(now.UnixNano(), 10)+ext)
	}
	return path.Join(dir, b.ArtifactName(target))
}

// StateObjectKey is the object store key of the state document for key.
func StateObjectKey(prefix string, key state.Key) string {
	return path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(KeyPath(key)), key.FileName())
}

// ContentType is the mime type of written artifacts.
func (b *BaseSink) ContentType() string {
	return formats.MimeType(b.format)
}

// ArtifactOptions returns serialization options for target.
func (b *BaseSink) ArtifactOptions(target core.WriteTarget) ArtifactOptions {
	return ArtifactOptions{
		Format:      b.format,
		Compression: b.compression,
		Level:       b.level,
		Columns:     target.Columns,
		ColumnTypes: target.ColumnTypes,
		RecordName:  target.SchemaTitle,
	}
}

// StreamOptions returns the options of a sink that supports both processing
// methods and whatever update methods its output allows.
func (b *BaseSink) StreamOptions() core.SinkStreamOptions {
	return core.SinkStreamOptions{
		UpdateMethods:              b.UpdateMethods(),
		StreamSetProcessingMethods: []core.StreamSetProcessingMethod{core.ProcessPerStreamSet, core.ProcessPerStream},
	}
}

// CheckTarget rejects targets the configured output cannot honor.
func (b *BaseSink) CheckTarget(target core.WriteTarget) error {
	if !b.StreamOptions().Supports(target.UpdateMethod) {
		return errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("sink %s cannot apply %s with %s output", b.name, target.UpdateMethod, b.format))
	}
	return nil
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
