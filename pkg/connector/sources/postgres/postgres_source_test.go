package postgres

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

type fakeDatabase struct {
	mu     sync.Mutex
	tables []Table
	data   map[string]string
	dsns   []string
	closed int
}

func (f *fakeDatabase) connect(_ context.Context, dsn string) (Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dsns = append(f.dsns, dsn)
	return f, nil
}

func (f *fakeDatabase) Tables(_ context.Context, schema string) ([]Table, error) {
	if schema != "public" {
		return nil, nil
	}
	return f.tables, nil
}

func (f *fakeDatabase) CopyCSV(_ context.Context, w io.Writer, schema, table string) error {
	_, err := io.WriteString(w, f.data[schema+"."+table])
	return err
}

func (f *fakeDatabase) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

var connection = config.Values{"host": "db.internal", "database": "crm"}

func newFake() *fakeDatabase {
	return &fakeDatabase{
		tables: []Table{
			{Name: "accounts", Inserts: 10, Updates: 2},
			{Name: "people", Inserts: 3},
		},
		data: map[string]string{
			"public.accounts": "id,name\n1,Acme\n",
			"public.people":   "id,email\n1,ada@example.com\n",
		},
	}
}

func TestDiscoverListsTables(t *testing.T) {
	db := newFake()
	s := NewSourceWithConnector(zaptest.NewLogger(t), db.connect)

	streams, err := s.Discover(context.Background(), connection, config.Values{"username": "reader"}, nil)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	assert.Equal(t, "accounts.csv", streams[0].Name)
	assert.Equal(t, "accounts", streams[0].StreamSetSlug)
	assert.Equal(t, "postgres://db.internal:5432/crm/public.accounts", streams[0].Locator)
	assert.Equal(t, "10/2/0", streams[0].Fingerprint)
	assert.Equal(t, "text/csv", streams[0].MimeType)
	assert.Equal(t, int64(-1), streams[0].Size)

	assert.Equal(t, []string{"postgres://reader@db.internal:5432/crm"}, db.dsns)
	assert.Equal(t, 1, db.closed)
}

func TestDiscoverSelectsConfiguredTables(t *testing.T) {
	db := newFake()
	s := NewSourceWithConnector(zaptest.NewLogger(t), db.connect)

	streams, err := s.Discover(context.Background(), connection, nil, config.Values{"tables": []string{"people"}})
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "people.csv", streams[0].Name)

	_, err = s.Discover(context.Background(), connection, nil, config.Values{"tables": []string{"orders"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestDiscoverEmptySchema(t *testing.T) {
	db := newFake()
	s := NewSourceWithConnector(zaptest.NewLogger(t), db.connect)

	_, err := s.Discover(context.Background(), config.Values{"host": "db", "database": "crm", "schema": "empty"}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestDiscoverRequiresDatabase(t *testing.T) {
	db := newFake()
	s := NewSourceWithConnector(zaptest.NewLogger(t), db.connect)

	_, err := s.Discover(context.Background(), config.Values{"host": "db"}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Empty(t, db.dsns)
}

func TestOpenStreamsTableAsCSV(t *testing.T) {
	db := newFake()
	s := NewSourceWithConnector(zaptest.NewLogger(t), db.connect)

	streams, err := s.Discover(context.Background(), connection, nil, nil)
	require.NoError(t, err)

	opened, err := streams[1].Open(context.Background())
	require.NoError(t, err)
	data, err := io.ReadAll(opened.Reader)
	require.NoError(t, err)
	require.NoError(t, opened.Reader.Close())

	assert.Equal(t, "id,email\n1,ada@example.com\n", string(data))
	assert.Equal(t, "3/0/0", opened.Fingerprint)
	assert.Equal(t, "text/csv", opened.MimeType)
}

func TestRepositoryIdentifier(t *testing.T) {
	s := NewSourceWithConnector(zaptest.NewLogger(t), nil)
	id, err := s.RepositoryIdentifier(config.Values{"host": "db.internal", "port": 6543, "database": "crm"})
	require.NoError(t, err)
	assert.Equal(t, "db.internal:6543/crm", id)
}

// TestDiscoverDatabase runs against a real server when DATAPKG_TEST_POSTGRES_URL is set.
func TestDiscoverDatabase(t *testing.T) {
	dsn := os.Getenv("DATAPKG_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("DATAPKG_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer db.Close(ctx)

	conn := db.(*pgDatabase).conn
	_, err = conn.Exec(ctx, `DROP TABLE IF EXISTS datapkg_source_test; CREATE TABLE datapkg_source_test (id int, name text); INSERT INTO datapkg_source_test VALUES (1, 'Ada')`)
	require.NoError(t, err)

	tables, err := db.Tables(ctx, "public")
	require.NoError(t, err)
	var names []string
	for _, tbl := range tables {
		names = append(names, tbl.Name)
	}
	assert.Contains(t, names, "datapkg_source_test")

	var b strings.Builder
	require.NoError(t, db.CopyCSV(ctx, &b, "public", "datapkg_source_test"))
	assert.Equal(t, "id,name\n1,Ada\n", b.String())
}
