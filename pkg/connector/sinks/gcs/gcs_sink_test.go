package gcs

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/googleapi"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    error
}

func (m *memStore) Put(ctx context.Context, name string, r io.Reader, contentType string, metadata map[string]string) error {
	if m.fail != nil {
		return m.fail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	m.types[name] = contentType
	return nil
}

func (m *memStore) Get(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[name], nil
}

func (m *memStore) Close() error { return nil }

var key = state.Key{PackageSlug: "weather", MajorVersion: 1}

func newSink(t *testing.T, store *memStore) (*Sink, string) {
	dataDir := t.TempDir()
	s, err := NewSinkWithStore(core.SinkSettings{
		Connection:    config.Values{"bucket": "lake", "path": "raw"},
		Configuration: config.Values{"format": "csv", "compression": "zstd"},
		DataDir:       dataDir,
		Logger:        zaptest.NewLogger(t),
	}, store, "lake")
	require.NoError(t, err)
	return s, dataDir
}

func deliver(t *testing.T, s *Sink, method core.UpdateMethod) (*core.CommitResult, error) {
	w, err := s.OpenWriter(context.Background(), core.WriteTarget{
		Key: key, SchemaTitle: "Readings", Columns: []string{"temp"}, UpdateMethod: method,
	})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(),
		&core.Record{Keys: []string{"temp"}, Values: map[string]interface{}{"temp": 21.5}}))
	res, err := w.Commit(context.Background())
	if err != nil {
		require.NoError(t, w.Abort(context.Background()))
	}
	return res, err
}

func TestBatchUpload(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, types: map[string]string{}}
	s, _ := newSink(t, store)

	res, err := deliver(t, s, core.UpdateMethodBatchFullSet)
	require.NoError(t, err)
	assert.Equal(t, "gs://lake/raw/_no-catalog/weather/v1/readings.csv.zst", res.Location)
	assert.NotEmpty(t, store.objects["raw/_no-catalog/weather/v1/readings.csv.zst"])
	assert.Equal(t, "text/csv", store.types["raw/_no-catalog/weather/v1/readings.csv.zst"])
}

func TestAppendAddsObjects(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, types: map[string]string{}}
	s, _ := newSink(t, store)

	_, err := deliver(t, s, core.UpdateMethodAppendOnlyLog)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = deliver(t, s, core.UpdateMethodAppendOnlyLog)
	require.NoError(t, err)

	var names []string
	for name := range store.objects {
		names = append(names, name)
	}
	require.Len(t, names, 2)
	for _, name := range names {
		assert.Equal(t, "raw/_no-catalog/weather/v1/readings", filepath.ToSlash(filepath.Dir(name)))
	}
}

func TestFailedUploadKeepsScratch(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, types: map[string]string{}, fail: fmt.Errorf("503 backend error")}
	s, dataDir := newSink(t, store)

	_, err := deliver(t, s, core.UpdateMethodBatchFullSet)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.FileExists(t, filepath.Join(dataDir, "scratch", "_no-catalog", "weather", "v1", "readings.csv.zst"))
}

func TestStateRoundTrip(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, types: map[string]string{}}
	s, _ := newSink(t, store)

	blob, err := s.ReadState(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, s.WriteState(context.Background(), key, []byte(`{}`)))
	assert.Contains(t, store.objects, "raw/_no-catalog/weather/v1/_no-catalog-weather-1-state.json")
}

func TestClassifyError(t *testing.T) {
	assert.True(t, errors.IsType(classifyError(storage.ErrBucketNotExist, "b", ""), errors.ErrorTypeNotFound))
	assert.True(t, errors.IsType(classifyError(&googleapi.Error{Code: 403}, "b", ""), errors.ErrorTypePermission))
	assert.True(t, errors.IsType(classifyError(io.ErrUnexpectedEOF, "b", ""), errors.ErrorTypeConnection))
}
