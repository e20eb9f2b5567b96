package base

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/compression"
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

func record(offset int64, name string) *core.Record {
	return &core.Record{Keys: []string{"name"}, Values: map[string]interface{}{"name": name}, Offset: offset}
}

func csvOptions() ArtifactOptions {
	return ArtifactOptions{Format: formats.CSV, Compression: compression.None, Columns: []string{"name"}}
}

func TestRelocatingWriterRemovesScratchAfterUpload(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch", "people.csv")
	var uploaded []byte
	uploader := UploaderFunc(func(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error) {
		data, err := os.ReadFile(localPath)
		uploaded = data
		return "mem://" + key, err
	})

	w, err := NewRelocatingWriter("test", scratch, csvOptions(), uploader, "acme/people/v1/people.csv",
		core.WriteTarget{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), record(0, "Ada")))
	require.NoError(t, w.Write(context.Background(), record(1, "Grace")))

	res, err := w.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mem://acme/people/v1/people.csv", res.Location)
	assert.Equal(t, int64(2), res.Records)
	assert.Equal(t, "name\nAda\nGrace\n", string(uploaded))
	assert.NoFileExists(t, scratch)
}

func TestUploadFailureKeepsScratchArtifact(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "people.csv")
	uploader := UploaderFunc(func(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error) {
		return "", fmt.Errorf("connection reset by peer")
	})

	w, err := NewRelocatingWriter("test", scratch, csvOptions(), uploader, "people.csv", core.WriteTarget{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), record(0, "Ada")))

	_, err = w.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.FileExists(t, scratch)

	// aborting after a failed upload still keeps the artifact
	require.NoError(t, w.Abort(context.Background()))
	data, err := os.ReadFile(scratch)
	require.NoError(t, err)
	assert.Equal(t, "name\nAda\n", string(data))
}

func TestAbortBeforeUploadDiscardsScratch(t *testing.T) {
	scratch := filepath.Join(t.TempDir(), "people.csv")
	var calls int32
	uploader := UploaderFunc(func(ctx context.Context, localPath, key string, target core.WriteTarget) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", nil
	})
	w, err := NewRelocatingWriter("test", scratch, csvOptions(), uploader, "people.csv", core.WriteTarget{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), record(0, "Ada")))
	require.NoError(t, w.Abort(context.Background()))
	assert.NoFileExists(t, scratch)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestLocalUploaderAppends(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.csv")
	require.NoError(t, os.WriteFile(src, []byte("a\n"), 0o644))

	u := LocalUploader{Dir: filepath.Join(dir, "out")}
	loc, err := u.Upload(context.Background(), src, "x/people.csv", core.WriteTarget{})
	require.NoError(t, err)
	_, err = u.Upload(context.Background(), src, "x/people.csv", core.WriteTarget{Append: true})
	require.NoError(t, err)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "a\na\n", string(data))
}

func TestCompressedArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.jsonl.gz")
	a, err := CreateArtifact(path, ArtifactOptions{Format: formats.JSONL, Compression: compression.Gzip})
	require.NoError(t, err)
	require.NoError(t, a.Write(record(0, "Ada")))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Greater(t, a.Bytes(), int64(0))

	f, err := os.Open(path)
	require.NoError(t, err)
	rs, err := NewRecordStream("people.jsonl.gz", &core.OpenedStream{Reader: f, Size: -1}, formats.ReaderOptions{})
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, formats.JSONL, rs.Format)
	assert.Equal(t, compression.Gzip, rs.Compression)

	rec, err := rs.Next()
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec.Values["name"])
	_, err = rs.Next()
	assert.Equal(t, io.EOF, err)
}

type closeTracker struct {
	io.Reader
	closed *int32
}

func (c closeTracker) Close() error {
	atomic.AddInt32(c.closed, 1)
	return nil
}

func TestOpenAllClosesOpenedStreamsOnFailure(t *testing.T) {
	var closed int32
	ok := func(ctx context.Context) (*core.OpenedStream, error) {
		return &core.OpenedStream{Reader: closeTracker{Reader: strings.NewReader(""), closed: &closed}}, nil
	}
	fail := func(ctx context.Context) (*core.OpenedStream, error) {
		return nil, errors.New(errors.ErrorTypeConnection, "refused")
	}

	descriptors := []*core.StreamDescriptor{
		core.NewStreamDescriptor("a.csv", "a", "set", ok),
		core.NewStreamDescriptor("b.csv", "b", "set", fail),
		core.NewStreamDescriptor("c.csv", "c", "set", ok),
	}
	_, err := OpenAll(context.Background(), descriptors, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.LessOrEqual(t, atomic.LoadInt32(&closed), int32(2))

	opened, err := OpenAll(context.Background(), []*core.StreamDescriptor{descriptors[0], descriptors[2]}, 1)
	require.NoError(t, err)
	assert.Len(t, opened, 2)
	require.NoError(t, CloseAll(opened))
}

func TestBaseSinkOptions(t *testing.T) {
	b, err := NewBaseSink("file", core.SinkSettings{
		Configuration: config.Values{"format": "avro", "compression": "zstd"},
		DataDir:       "/data",
	})
	require.NoError(t, err)
	assert.Equal(t, []core.UpdateMethod{core.UpdateMethodBatchFullSet}, b.UpdateMethods())
	assert.Error(t, b.CheckTarget(core.WriteTarget{UpdateMethod: core.UpdateMethodAppendOnlyLog}))

	target := core.WriteTarget{SchemaTitle: "People Table"}
	assert.Equal(t, "people-table.avro.zst", b.ArtifactName(target))
	target.StreamName = "people-2024"
	assert.Equal(t, "people-2024.avro.zst", b.ArtifactName(target))

	key := state.Key{PackageSlug: "people", MajorVersion: 2}
	assert.Equal(t, filepath.Join("/data", "_no-catalog", "people", "v2"), b.Directory(key))

	b, err = NewBaseSink("file", core.SinkSettings{Configuration: config.Values{}})
	require.NoError(t, err)
	assert.Equal(t, formats.CSV, b.Format())
	assert.True(t, b.StreamOptions().Supports(core.UpdateMethodAppendOnlyLog))

	_, err = NewBaseSink("file", core.SinkSettings{Configuration: config.Values{"format": "xml"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestProgressReporter(t *testing.T) {
	pr := NewProgressReporter(zaptest.NewLogger(t), "http", "file")
	pr.Start()
	pr.IncrementProcessed(3)
	pr.IncrementProcessed(2)
	pr.Stop()
	pr.Stop()
	assert.Equal(t, int64(5), pr.Processed())
}
