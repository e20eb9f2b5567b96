package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// fakeAPI keeps objects in memory. Artifacts in tests stay below the part
// size, so the uploader only issues PutObject.
type fakeAPI struct {
	manager.UploadAPIClient

	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeAPI) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) == "missing" {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

var key = state.Key{CatalogSlug: "acme", PackageSlug: "people", MajorVersion: 2}

func newSink(t *testing.T, api *fakeAPI) (*Sink, string) {
	dataDir := t.TempDir()
	s, err := NewSinkWithClient(context.Background(), core.SinkSettings{
		Connection:    config.Values{"bucket": "datasets", "path": "/exports/"},
		Configuration: config.Values{"format": "jsonl"},
		DataDir:       dataDir,
		Logger:        zaptest.NewLogger(t),
	}, api)
	require.NoError(t, err)
	return s, dataDir
}

func target(method core.UpdateMethod) core.WriteTarget {
	return core.WriteTarget{Key: key, SchemaTitle: "People", Columns: []string{"name"}, UpdateMethod: method}
}

func TestObjectKeys(t *testing.T) {
	s, _ := newSink(t, newFakeAPI())
	now := time.Unix(0, 42)

	assert.Equal(t, "exports/acme/people/v2/people.jsonl", s.ObjectKey(target(core.UpdateMethodBatchFullSet), now))
	assert.Equal(t, "exports/acme/people/v2/people/42.jsonl", s.ObjectKey(target(core.UpdateMethodAppendOnlyLog), now))

	perStream := target(core.UpdateMethodBatchFullSet)
	perStream.StreamName = "People 2023.csv"
	assert.Equal(t, "exports/acme/people/v2/people-2023-csv.jsonl", s.ObjectKey(perStream, now))

	assert.Equal(t, "exports/acme/people/v2/acme-people-2-state.json", s.StateKey(key))
}

func TestUploadRelocatesArtifact(t *testing.T) {
	api := newFakeAPI()
	s, dataDir := newSink(t, api)

	w, err := s.OpenWriter(context.Background(), target(core.UpdateMethodBatchFullSet))
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(),
		&core.Record{Keys: []string{"name"}, Values: map[string]interface{}{"name": "Ada"}}))
	res, err := w.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "s3://datasets/exports/acme/people/v2/people.jsonl", res.Location)
	assert.Equal(t, `{"name":"Ada"}`+"\n", string(api.objects["exports/acme/people/v2/people.jsonl"]))
	assert.NoFileExists(t, filepath.Join(dataDir, "scratch", "acme", "people", "v2", "people.jsonl"))
}

func TestUploadFailureKeepsScratch(t *testing.T) {
	api := newFakeAPI()
	api.putErr = fmt.Errorf("connection reset")
	s, dataDir := newSink(t, api)

	w, err := s.OpenWriter(context.Background(), target(core.UpdateMethodBatchFullSet))
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(),
		&core.Record{Keys: []string{"name"}, Values: map[string]interface{}{"name": "Ada"}}))
	_, err = w.Commit(context.Background())
	require.Error(t, err)
	require.NoError(t, w.Abort(context.Background()))

	scratch := filepath.Join(dataDir, "scratch", "acme", "people", "v2", "people.jsonl")
	data, err := os.ReadFile(scratch)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Ada")
}

func TestState(t *testing.T) {
	s, _ := newSink(t, newFakeAPI())

	blob, err := s.ReadState(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, s.WriteState(context.Background(), key, []byte("{}")))
	blob, err = s.ReadState(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(blob))
}

func TestMissingBucket(t *testing.T) {
	_, err := NewSinkWithClient(context.Background(), core.SinkSettings{
		Connection: config.Values{"bucket": "missing"},
		Logger:     zaptest.NewLogger(t),
	}, newFakeAPI())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = NewSinkWithClient(context.Background(), core.SinkSettings{Logger: zaptest.NewLogger(t)}, newFakeAPI())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
