package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

const lastModified = "Mon, 02 Jan 2023 15:04:05 GMT"

var objects = map[string]string{
	"exports/people.csv":   "name,age\nAda,36\n",
	"exports/pets.jsonl":   `{"species":"cat"}` + "\n",
	"exports/archive/old/": "",
}

// fakeS3 answers the handful of S3 calls the source makes against bucket "data".
func fakeS3(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/data" || r.URL.Path == "/data/" {
			if r.URL.Query().Get("list-type") != "2" {
				w.WriteHeader(http.StatusNotImplemented)
				return
			}
			prefix := r.URL.Query().Get("prefix")
			var b strings.Builder
			b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			b.WriteString(`<Name>data</Name><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`)
			for _, key := range []string{"exports/archive/old/", "exports/people.csv", "exports/pets.jsonl"} {
				if !strings.HasPrefix(key, prefix) {
					continue
				}
				fmt.Fprintf(&b, `<Contents><Key>%s</Key><LastModified>2023-01-02T15:04:05.000Z</LastModified><ETag>"etag-%d"</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>`,
					key, len(objects[key]), len(objects[key]))
			}
			b.WriteString(`</ListBucketResult>`)
			w.Header().Set("Content-Type", "application/xml")
			io.WriteString(w, b.String())
			return
		}
		if r.URL.Path == "/private/secret.csv" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/data/")
		body, ok := objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, len(body)))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodHead {
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func connection(srv *httptest.Server, bucket string) config.Values {
	return config.Values{"endpoint": srv.URL, "bucket": bucket}
}

func TestDiscoverListsPrefix(t *testing.T) {
	srv := fakeS3(t)
	s, _ := NewSource(zaptest.NewLogger(t))

	descriptors, err := s.Discover(context.Background(), connection(srv, "data"), config.Values{}, config.Values{"prefix": "exports/"})
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "people.csv", descriptors[0].Name)
	assert.Equal(t, "people", descriptors[0].StreamSetSlug)
	assert.Equal(t, "s3://data/exports/people.csv", descriptors[0].Locator)
	assert.Equal(t, int64(len(objects["exports/people.csv"])), descriptors[0].Size)
	assert.NotEmpty(t, descriptors[0].Fingerprint)
	assert.Equal(t, "pets", descriptors[1].StreamSetSlug)

	opened, err := descriptors[0].Open(context.Background())
	require.NoError(t, err)
	defer opened.Reader.Close()
	data, err := io.ReadAll(opened.Reader)
	require.NoError(t, err)
	assert.Equal(t, objects["exports/people.csv"], string(data))
	assert.Equal(t, descriptors[0].Fingerprint, opened.Fingerprint)
}

func TestDiscoverExplicitKeys(t *testing.T) {
	srv := fakeS3(t)
	s, _ := NewSource(zaptest.NewLogger(t))

	descriptors, err := s.Discover(context.Background(), connection(srv, "data"), nil,
		config.Values{"keys": []string{"exports/pets.jsonl"}})
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "pets.jsonl", descriptors[0].Name)

	_, err = s.Discover(context.Background(), connection(srv, "data"), nil,
		config.Values{"keys": []string{"exports/missing.csv"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = s.Discover(context.Background(), connection(srv, "private"), nil,
		config.Values{"keys": []string{"secret.csv"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypePermission))
}

func TestDiscoverEmptyPrefix(t *testing.T) {
	srv := fakeS3(t)
	s, _ := NewSource(zaptest.NewLogger(t))
	_, err := s.Discover(context.Background(), connection(srv, "data"), nil, config.Values{"prefix": "nothing/"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRepositoryIdentifier(t *testing.T) {
	s, _ := NewSource(zaptest.NewLogger(t))

	id, err := s.RepositoryIdentifier(config.Values{"endpoint": "https://play.min.io", "bucket": "datasets"})
	require.NoError(t, err)
	assert.Equal(t, "play.min.io/datasets", id)

	_, err = s.RepositoryIdentifier(config.Values{"endpoint": "play.min.io"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = s.RepositoryIdentifier(config.Values{"endpoint": "ftp://play.min.io", "bucket": "x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestClassifyError(t *testing.T) {
	assert.True(t, errors.IsType(classifyError(minio.ErrorResponse{Code: "NoSuchBucket"}, "b", ""), errors.ErrorTypeNotFound))
	assert.True(t, errors.IsType(classifyError(minio.ErrorResponse{Code: "SignatureDoesNotMatch"}, "b", ""), errors.ErrorTypePermission))
	assert.True(t, errors.IsType(classifyError(io.ErrUnexpectedEOF, "b", ""), errors.ErrorTypeConnection))
}
