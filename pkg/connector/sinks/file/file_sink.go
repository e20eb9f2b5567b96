// Package file implements a sink that writes artifacts into a local
// directory. Artifacts are staged in the scratch directory and copied into
// place on commit, so a failed run never leaves a half written file behind.
package file

import (
	"context"
	"path/filepath"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// Type is the registry name of the sink.
const Type = "file"

// Sink writes into a local directory.
type Sink struct {
	*base.BaseSink
	// path overrides the per package default directory when set
	path string
}

// NewSink creates a file sink.
func NewSink(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
	b, err := base.NewBaseSink(Type, settings)
	if err != nil {
		return nil, err
	}
	return &Sink{BaseSink: b, path: settings.Connection.GetString("path")}, nil
}

// OutputDirectory is where artifacts and state for key are kept.
func (s *Sink) OutputDirectory(key state.Key) string {
	if s.path != "" {
		return s.path
	}
	return s.Directory(key)
}

// SupportedStreamOptions implements core.Sink.
func (s *Sink) SupportedStreamOptions(configuration config.Values, prior *state.SinkState) core.SinkStreamOptions {
	return s.StreamOptions()
}

// OpenWriter implements core.Sink.
func (s *Sink) OpenWriter(ctx context.Context, target core.WriteTarget) (core.RecordWriter, error) {
	if err := s.CheckTarget(target); err != nil {
		return nil, err
	}
	dir := s.OutputDirectory(target.Key)
	name := s.ArtifactName(target)

	opts := s.ArtifactOptions(target)
	if target.Append && s.Format() == formats.CSV && base.FileHasContent(filepath.Join(dir, name)) {
		opts.SkipHeader = true
	}
	return base.NewRelocatingWriter(
		Type,
		filepath.Join(s.ScratchDirectory(target.Key), name),
		opts,
		base.LocalUploader{Dir: dir},
		name,
		target,
		s.Logger(),
	)
}

// ReadState implements core.Sink.
func (s *Sink) ReadState(ctx context.Context, key state.Key) ([]byte, error) {
	return state.FileStore{Dir: s.OutputDirectory(key)}.Read(key)
}

// WriteState implements core.Sink.
func (s *Sink) WriteState(ctx context.Context, key state.Key, blob []byte) error {
	return state.FileStore{Dir: s.OutputDirectory(key)}.Write(key, blob)
}

// Close implements core.Sink.
func (s *Sink) Close(ctx context.Context) error { return nil }
