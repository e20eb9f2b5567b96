package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverGlobsAndDirectories(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.csv"), "x\n1\n")
	write(t, filepath.Join(dir, "b.csv"), "x\n2\n")
	write(t, filepath.Join(dir, "nested", "c.jsonl"), `{"x":3}`+"\n")
	write(t, filepath.Join(dir, "nested", ".hidden"), "")

	s, _ := NewSource(zaptest.NewLogger(t))
	descriptors, err := s.Discover(context.Background(),
		config.Values{"paths": []string{filepath.Join(dir, "*.csv"), filepath.Join(dir, "nested"), filepath.Join(dir, "a.csv")}},
		nil, nil)
	require.NoError(t, err)

	var names []string
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a.csv", "b.csv", "c.jsonl"}, names)
	assert.Equal(t, "c", descriptors[2].StreamSetSlug)
	assert.Equal(t, int64(4), descriptors[0].Size)
	assert.NotEmpty(t, descriptors[0].Fingerprint)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	write(t, path, "x\n1\n")
	s, _ := NewSource(zaptest.NewLogger(t))
	connection := config.Values{"paths": path}

	first, err := s.Discover(context.Background(), connection, nil, nil)
	require.NoError(t, err)

	write(t, path, "x\n1\n2\n")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := s.Discover(context.Background(), connection, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Fingerprint, second[0].Fingerprint)

	opened, err := second[0].Open(context.Background())
	require.NoError(t, err)
	defer opened.Reader.Close()
	data, err := io.ReadAll(opened.Reader)
	require.NoError(t, err)
	assert.Equal(t, "x\n1\n2\n", string(data))
	assert.Equal(t, second[0].Fingerprint, opened.Fingerprint)
}

func TestDiscoverMissing(t *testing.T) {
	s, _ := NewSource(zaptest.NewLogger(t))
	_, err := s.Discover(context.Background(), config.Values{"paths": filepath.Join(t.TempDir(), "*.csv")}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = s.Discover(context.Background(), config.Values{}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
