// Package gcs implements a sink that relocates artifacts into a Google Cloud
// Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// Type is the registry name of the sink.
const Type = "gcs"

// Store is the object access the sink needs. Get returns nil, nil for a
// missing object.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string, metadata map[string]string) error
	Get(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Sink uploads artifacts into a bucket.
type Sink struct {
	*base.BaseSink
	store  Store
	bucket string
	prefix string
}

// NewSink creates a GCS sink. Without a credentials file the client uses
// application default credentials.
func NewSink(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
	bucket := settings.Connection.GetString("bucket")
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "the gcs sink requires a bucket")
	}

	var opts []option.ClientOption
	if file := settings.Credentials.GetString("credentialsFile"); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}

	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		client.Close()
		return nil, classifyError(err, bucket, "")
	}
	return NewSinkWithStore(settings, &bucketStore{client: client, bucket: handle}, bucket)
}

// NewSinkWithStore creates a GCS sink over an existing store.
func NewSinkWithStore(settings core.SinkSettings, store Store, bucket string) (*Sink, error) {
	b, err := base.NewBaseSink(Type, settings)
	if err != nil {
		return nil, err
	}
	return &Sink{BaseSink: b, store: store, bucket: bucket, prefix: settings.Connection.GetString("path")}, nil
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
	return base.NewRelocatingWriter(
		Type,
		filepath.Join(s.ScratchDirectory(target.Key), s.ArtifactName(target)),
		s.ArtifactOptions(target),
		base.UploaderFunc(s.upload),
		s.ObjectKey(s.prefix, target, time.Now()),
		target,
		s.Logger(),
	)
}

func (s *Sink) upload(ctx context.Context, localPath, name string, target core.WriteTarget) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to open artifact").WithDetail("path", localPath)
	}
	defer f.Close()

	start := time.Now()
	err = s.store.Put(ctx, name, f, s.ContentType(), map[string]string{
		"package-version": target.PackageVersion,
		"stream-set":      target.StreamSetSlug,
		"update-method":   string(target.UpdateMethod),
	})
	if err != nil {
		return "", classifyError(err, s.bucket, name)
	}
	location := "gs://" + s.bucket + "/" + name
	s.Logger().Info("artifact uploaded to GCS",
		zap.String("location", location),
		zap.Duration("duration", time.Since(start)))
	return location, nil
}

// ReadState implements core.Sink.
func (s *Sink) ReadState(ctx context.Context, key state.Key) ([]byte, error) {
	name := base.StateObjectKey(s.prefix, key)
	data, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, classifyError(err, s.bucket, name)
	}
	return data, nil
}

// WriteState implements core.Sink.
func (s *Sink) WriteState(ctx context.Context, key state.Key, blob []byte) error {
	name := base.StateObjectKey(s.prefix, key)
	if err := s.store.Put(ctx, name, bytes.NewReader(blob), "application/json", nil); err != nil {
		return classifyError(err, s.bucket, name)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close(ctx context.Context) error {
	return s.store.Close()
}

type bucketStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func (b *bucketStore) Put(ctx context.Context, name string, r io.Reader, contentType string, metadata map[string]string) error {
	w := b.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *bucketStore) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *bucketStore) Close() error {
	return b.client.Close()
}

func classifyError(err error, bucket, name string) error {
	if e, ok := err.(*errors.Error); ok {
		return e
	}
	t := errors.ErrorTypeConnection
	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, storage.ErrBucketNotExist), errors.Is(err, storage.ErrObjectNotExist):
		t = errors.ErrorTypeNotFound
	case errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403):
		t = errors.ErrorTypePermission
	}
	return errors.Wrap(err, t, "GCS request failed").
		WithDetail("bucket", bucket).
		WithDetail("object", name)
}
