package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

var key = state.Key{CatalogSlug: "acme", PackageSlug: "people", MajorVersion: 1}

func newSink(t *testing.T, configuration config.Values) (*Sink, string) {
	dir := t.TempDir()
	s, err := NewSink(context.Background(), core.SinkSettings{
		Connection:    config.Values{},
		Configuration: configuration,
		DataDir:       dir,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s.(*Sink), dir
}

func target(method core.UpdateMethod, appending bool) core.WriteTarget {
	return core.WriteTarget{
		Key:          key,
		SchemaTitle:  "People",
		Columns:      []string{"name"},
		UpdateMethod: method,
		Append:       appending,
	}
}

func deliver(t *testing.T, s *Sink, tgt core.WriteTarget, names ...string) *core.CommitResult {
	w, err := s.OpenWriter(context.Background(), tgt)
	require.NoError(t, err)
	for i, n := range names {
		require.NoError(t, w.Write(context.Background(),
			&core.Record{Keys: []string{"name"}, Values: map[string]interface{}{"name": n}, Offset: int64(i)}))
	}
	res, err := w.Commit(context.Background())
	require.NoError(t, err)
	return res
}

func TestBatchReplacesOutput(t *testing.T) {
	s, dir := newSink(t, config.Values{})
	out := filepath.Join(dir, "acme", "people", "v1", "people.csv")

	res := deliver(t, s, target(core.UpdateMethodBatchFullSet, false), "Ada", "Grace")
	assert.Equal(t, out, res.Location)
	deliver(t, s, target(core.UpdateMethodBatchFullSet, false), "Linus")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "name\nLinus\n", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "scratch", "acme", "people", "v1", "people.csv"))
}

func TestAppendKeepsEarlierContent(t *testing.T) {
	s, dir := newSink(t, config.Values{"format": "csv"})
	deliver(t, s, target(core.UpdateMethodAppendOnlyLog, false), "Ada")
	deliver(t, s, target(core.UpdateMethodAppendOnlyLog, true), "Grace")

	data, err := os.ReadFile(filepath.Join(dir, "acme", "people", "v1", "people.csv"))
	require.NoError(t, err)
	assert.Equal(t, "name\nAda\nGrace\n", string(data))
}

func TestAvroRejectsAppend(t *testing.T) {
	s, _ := newSink(t, config.Values{"format": "avro"})
	opts := s.SupportedStreamOptions(nil, nil)
	assert.False(t, opts.Supports(core.UpdateMethodAppendOnlyLog))

	_, err := s.OpenWriter(context.Background(), target(core.UpdateMethodAppendOnlyLog, false))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStateNextToOutput(t *testing.T) {
	s, dir := newSink(t, config.Values{})

	blob, err := s.ReadState(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, s.WriteState(context.Background(), key, []byte(`{"key":{}}`)))
	assert.FileExists(t, filepath.Join(dir, "acme", "people", "v1", key.FileName()))

	blob, err = s.ReadState(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, `{"key":{}}`, string(blob))
}

func TestExplicitPath(t *testing.T) {
	out := t.TempDir()
	s, err := NewSink(context.Background(), core.SinkSettings{
		Connection:    config.Values{"path": out},
		Configuration: config.Values{"format": "jsonl", "compression": "gzip"},
		DataDir:       t.TempDir(),
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	res := deliver(t, s.(*Sink), target(core.UpdateMethodBatchFullSet, false), "Ada")
	assert.Equal(t, filepath.Join(out, "people.jsonl.gz"), res.Location)
}
