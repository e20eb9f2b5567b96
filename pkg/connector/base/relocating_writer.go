package base

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/metrics"
)

// Uploader moves a finished local artifact to its durable destination and
// returns the destination's location.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error)

func (f UploaderFunc) Upload(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error) {
	return f(ctx, localPath, key, target)
}

// RelocatingWriter writes records into a local scratch artifact and, on
// Commit, uploads it and removes the scratch file. The scratch file is only
// removed after a successful upload; once an upload has been attempted,
// neither a failed Commit nor Abort removes it.
type RelocatingWriter struct {
	sink     string
	artifact *ArtifactWriter
	uploader Uploader
	key      string
	target   core.WriteTarget
	logger   *zap.Logger

	uploadAttempted bool
	finished        bool
}

// NewRelocatingWriter creates the scratch artifact at scratchPath.
func NewRelocatingWriter(
	sink string,
	scratchPath string,
	opts ArtifactOptions,
	uploader Uploader,
	key string,
	target core.WriteTarget,
	logger *zap.Logger,
) (*RelocatingWriter, error) {
	artifact, err := CreateArtifact(scratchPath, opts)
	if err != nil {
		return nil, err
	}
	return &RelocatingWriter{
		sink:     sink,
		artifact: artifact,
		uploader: uploader,
		key:      key,
		target:   target,
		logger:   logger.With(zap.String("scratch", scratchPath), zap.String("key", key)),
	}, nil
}

// ScratchPath returns the local artifact's location.
func (w *RelocatingWriter) ScratchPath() string { return w.artifact.Path() }

// Write implements core.RecordWriter.
func (w *RelocatingWriter) Write(ctx context.Context, record *core.Record) error {
	return w.artifact.Write(record)
}

// Commit finishes the scratch artifact, uploads it and removes it.
func (w *RelocatingWriter) Commit(ctx context.Context) (*core.CommitResult, error) {
	if w.finished {
		return nil, errors.New(errors.ErrorTypeInternal, "relocating writer already finished")
	}
	if err := w.artifact.Close(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "delivery cancelled before upload")
	}

	w.uploadAttempted = true
	location, err := w.uploader.Upload(ctx, w.artifact.Path(), w.key, w.target)
	if err != nil {
		metrics.UploadFailures.WithLabelValues(w.sink).Inc()
		w.logger.Error("upload failed, scratch artifact kept", zap.Error(err))
		if errors.TypeOf(err) != errors.ErrorTypeInternal {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to upload %s", w.key)).
			WithDetail("scratch", w.artifact.Path())
	}
	w.finished = true

	if err := os.Remove(w.artifact.Path()); err != nil {
		w.logger.Warn("failed to remove scratch artifact after upload", zap.Error(err))
	}
	metrics.BytesUploaded.WithLabelValues(w.sink).Add(float64(w.artifact.Bytes()))
	w.logger.Debug("artifact relocated",
		zap.String("location", location),
		zap.Int64("records", w.artifact.Records()),
		zap.Int64("bytes", w.artifact.Bytes()))

	return &core.CommitResult{Location: location, Records: w.artifact.Records(), Bytes: w.artifact.Bytes()}, nil
}

// Abort discards the scratch artifact unless an upload was attempted.
func (w *RelocatingWriter) Abort(ctx context.Context) error {
	if w.finished {
		return nil
	}
	w.finished = true
	if w.uploadAttempted {
		return w.artifact.Close()
	}
	return w.artifact.Discard()
}
