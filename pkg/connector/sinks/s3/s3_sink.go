// Package s3 implements a sink that relocates artifacts into an S3 bucket
// (or any endpoint speaking the S3 API). Batch deliveries overwrite one
// object per artifact; append deliveries add a new object per run below the
// artifact's prefix, since S3 objects cannot be extended in place.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// Type is the registry name of the sink.
const Type = "s3"

const (
	defaultRegion         = "us-east-1"
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 5
)

// API is the part of the S3 client the sink uses.
type API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Sink uploads artifacts into a bucket.
type Sink struct {
	*base.BaseSink
	client   API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewSink creates an S3 sink and checks that the bucket is reachable.
func NewSink(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
	client, err := newClient(ctx, settings.Connection, settings.Credentials)
	if err != nil {
		return nil, err
	}
	return NewSinkWithClient(ctx, settings, client)
}

// NewSinkWithClient creates an S3 sink over an existing client.
func NewSinkWithClient(ctx context.Context, settings core.SinkSettings, client API) (*Sink, error) {
	b, err := base.NewBaseSink(Type, settings)
	if err != nil {
		return nil, err
	}
	bucket := settings.Connection.GetString("bucket")
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "the s3 sink requires a bucket")
	}

	partSize := int64(defaultUploadPartSize)
	if mb, ok := settings.Configuration.GetFloat("uploadPartSizeMB"); ok && mb >= 5 {
		partSize = int64(mb * 1024 * 1024)
	}
	concurrency := defaultMaxConcurrency
	if n, ok := settings.Configuration.GetFloat("uploadConcurrency"); ok && n >= 1 {
		concurrency = int(n)
	}

	s := &Sink{
		BaseSink: b,
		client:   client,
		bucket:   bucket,
		prefix:   settings.Connection.GetString("path"),
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = concurrency
		}),
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, classifyError(err, bucket, "")
	}
	return s, nil
}

func newClient(ctx context.Context, connection, creds config.Values) (*s3.Client, error) {
	region := connection.GetString("region")
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if id := creds.GetString("accessKeyId"); id != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, creds.GetString("secretAccessKey"), creds.GetString("sessionToken"))))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	endpoint := connection.GetString("endpoint")
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// SupportedStreamOptions implements core.Sink.
func (s *Sink) SupportedStreamOptions(configuration config.Values, prior *state.SinkState) core.SinkStreamOptions {
	return s.StreamOptions()
}

// ObjectKey is where the artifact of target is stored.
func (s *Sink) ObjectKey(target core.WriteTarget, now time.Time) string {
	return s.BaseSink.ObjectKey(s.prefix, target, now)
}

// StateKey is the object holding the state document for key.
func (s *Sink) StateKey(key state.Key) string {
	return base.StateObjectKey(s.prefix, key)
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
		s.ObjectKey(target, time.Now()),
		target,
		s.Logger(),
	)
}

func (s *Sink) upload(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to open artifact").WithDetail("path", localPath)
	}
	defer f.Close()

	start := time.Now()
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(s.ContentType()),
		Metadata: map[string]string{
			"package-version": target.PackageVersion,
			"stream-set":      target.StreamSetSlug,
			"update-method":   string(target.UpdateMethod),
		},
	})
	if err != nil {
		return "", classifyError(err, s.bucket, key)
	}
	location := "s3://" + s.bucket + "/" + key
	s.Logger().Info("artifact uploaded to S3",
		zap.String("location", location),
		zap.Duration("duration", time.Since(start)))
	return location, nil
}

// ReadState implements core.Sink.
func (s *Sink) ReadState(ctx context.Context, key state.Key) ([]byte, error) {
	objectKey := s.StateKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey)})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, classifyError(err, s.bucket, objectKey)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read sink state").WithDetail("key", objectKey)
	}
	return data, nil
}

// WriteState implements core.Sink.
func (s *Sink) WriteState(ctx context.Context, key state.Key, blob []byte) error {
	objectKey := s.StateKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return classifyError(err, s.bucket, objectKey)
	}
	return nil
}

// Close implements core.Sink.
func (s *Sink) Close(ctx context.Context) error { return nil }

func classifyError(err error, bucket, key string) error {
	var (
		noBucket *types.NoSuchBucket
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	t := errors.ErrorTypeConnection
	switch {
	case errors.As(err, &noBucket), errors.As(err, &noKey), errors.As(err, &notFound):
		t = errors.ErrorTypeNotFound
	case isAccessDenied(err):
		t = errors.ErrorTypePermission
	}
	return errors.Wrap(err, t, fmt.Sprintf("S3 request failed for bucket %s", bucket)).WithDetail("key", key)
}

type apiError interface {
	ErrorCode() string
}

func isAccessDenied(err error) bool {
	var ae apiError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return true
	}
	return false
}
