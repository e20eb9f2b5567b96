// Package minio implements a source over objects in an S3-compatible bucket
// (MinIO, AWS S3, Ceph, ...). Objects are either listed below a prefix or
// named explicitly; discovery only reads object metadata.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Type is the registry name of the source.
const Type = "minio"

const defaultRegion = "us-east-1"

// Source discovers objects in a bucket.
type Source struct {
	logger *zap.Logger
}

// NewSource creates an object store source.
func NewSource(logger *zap.Logger) (core.Source, error) {
	return &Source{logger: logger}, nil
}

// Type implements core.Source.
func (s *Source) Type() string { return Type }

// RepositoryIdentifier is the endpoint host and bucket, e.g.
// "play.min.io/datasets".
func (s *Source) RepositoryIdentifier(connection config.Values) (string, error) {
	endpoint, _, err := parseEndpoint(connection)
	if err != nil {
		return "", err
	}
	bucket := connection.GetString("bucket")
	if bucket == "" {
		return "", errors.New(errors.ErrorTypeConfig, "the minio source requires a bucket")
	}
	return endpoint + "/" + bucket, nil
}

// Discover lists the objects below the configured prefix, or stats the
// configured keys. Each object is fingerprinted by its ETag.
func (s *Source) Discover(ctx context.Context, connection, creds, configuration config.Values) ([]*core.StreamDescriptor, error) {
	client, err := newClient(connection, creds)
	if err != nil {
		return nil, err
	}
	bucket := connection.GetString("bucket")
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "the minio source requires a bucket")
	}

	var objects []minio.ObjectInfo
	if keys := configuration.GetStrings("keys"); len(keys) > 0 {
		for _, key := range keys {
			info, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
			if err != nil {
				return nil, classifyError(err, bucket, key)
			}
			objects = append(objects, info)
		}
	} else {
		prefix := configuration.GetString("prefix")
		listCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		for obj := range client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				return nil, classifyError(obj.Err, bucket, prefix)
			}
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			objects = append(objects, obj)
		}
		if len(objects) == 0 {
			return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("no objects below %q in bucket %q", prefix, bucket)).
				WithDetail("bucket", bucket)
		}
	}

	descriptors := make([]*core.StreamDescriptor, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		d := core.NewStreamDescriptor(name, "s3://"+bucket+"/"+obj.Key, base.StreamSetSlug(name), opener(client, bucket, obj.Key))
		d.Size = obj.Size
		d.MimeType = obj.ContentType
		d.Fingerprint = obj.ETag
		descriptors = append(descriptors, d)
	}
	s.logger.Debug("discovered objects", zap.String("bucket", bucket), zap.Int("count", len(descriptors)))
	return descriptors, nil
}

func opener(client *minio.Client, bucket, key string) core.Opener {
	return func(ctx context.Context) (*core.OpenedStream, error) {
		obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, classifyError(err, bucket, key)
		}
		// GetObject is lazy; Stat issues the request.
		info, err := obj.Stat()
		if err != nil {
			obj.Close()
			return nil, classifyError(err, bucket, key)
		}
		return &core.OpenedStream{
			Reader:      obj,
			Size:        info.Size,
			MimeType:    info.ContentType,
			Encoding:    info.Metadata.Get("Content-Encoding"),
			Fingerprint: info.ETag,
		}, nil
	}
}

func newClient(connection, creds config.Values) (*minio.Client, error) {
	endpoint, secure, err := parseEndpoint(connection)
	if err != nil {
		return nil, err
	}
	region := connection.GetString("region")
	if region == "" {
		region = defaultRegion
	}

	opts := &minio.Options{Secure: secure, Region: region}
	if id := creds.GetString("accessKeyId"); id != "" {
		opts.Creds = credentials.NewStaticV4(id, creds.GetString("secretAccessKey"), creds.GetString("sessionToken"))
	} else {
		opts.Creds = credentials.NewStaticV4("", "", "")
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create object store client")
	}
	return client, nil
}

// parseEndpoint accepts "host:port" or a URL; an http:// scheme disables TLS.
func parseEndpoint(connection config.Values) (string, bool, error) {
	raw := connection.GetString("endpoint")
	if raw == "" {
		return "", false, errors.New(errors.ErrorTypeConfig, "the minio source requires an endpoint")
	}
	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("invalid endpoint %q", raw))
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported endpoint scheme %q", u.Scheme))
	}
}

func classifyError(err error, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	var t errors.ErrorType
	switch resp.Code {
	case "NoSuchBucket", "NoSuchKey", "NotFound":
		t = errors.ErrorTypeNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		t = errors.ErrorTypePermission
	default:
		t = errors.ErrorTypeConnection
	}
	return errors.Wrap(err, t, "object store request failed").
		WithDetail("bucket", bucket).
		WithDetail("key", key)
}
