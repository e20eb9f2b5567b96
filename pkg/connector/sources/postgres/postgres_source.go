// Package postgres implements a source over the tables of a PostgreSQL
// schema. Each table is one stream, exported as CSV with a header row
// through COPY ... TO STDOUT.
package postgres

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/connector/shared/pgutil"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Type is the registry name of the source.
const Type = "postgres"

const tablesQuery = `SELECT t.table_name,
       COALESCE(s.n_tup_ins, 0), COALESCE(s.n_tup_upd, 0), COALESCE(s.n_tup_del, 0)
  FROM information_schema.tables t
  LEFT JOIN pg_stat_user_tables s
    ON s.schemaname = t.table_schema AND s.relname = t.table_name
 WHERE t.table_schema = $1 AND t.table_type = 'BASE TABLE'
 ORDER BY t.table_name`

// Table is a base table and its write counters.
type Table struct {
	Name    string
	Inserts int64
	Updates int64
	Deletes int64
}

// Fingerprint changes whenever rows are written. The statistics collector
// updates counters asynchronously, so a write may be noticed one run late.
func (t Table) Fingerprint() string {
	return fmt.Sprintf("%d/%d/%d", t.Inserts, t.Updates, t.Deletes)
}

// Database is the part of a connection the source uses.
type Database interface {
	Tables(ctx context.Context, schema string) ([]Table, error)
	CopyCSV(ctx context.Context, w io.Writer, schema, table string) error
	Close(ctx context.Context) error
}

// Connector opens a database connection for a DSN.
type Connector func(ctx context.Context, dsn string) (Database, error)

// Source discovers tables in one schema.
type Source struct {
	logger  *zap.Logger
	connect Connector
}

// NewSource creates a PostgreSQL source.
func NewSource(logger *zap.Logger) (core.Source, error) {
	return NewSourceWithConnector(logger, Connect), nil
}

// NewSourceWithConnector creates a source that opens connections with connect.
func NewSourceWithConnector(logger *zap.Logger, connect Connector) *Source {
	return &Source{logger: logger, connect: connect}
}

// Type implements core.Source.
func (s *Source) Type() string { return Type }

// RepositoryIdentifier is "host:port/database".
func (s *Source) RepositoryIdentifier(connection config.Values) (string, error) {
	return pgutil.Identifier(connection)
}

// Discover lists the base tables of the schema, or the configured subset.
// Row data is not read.
func (s *Source) Discover(ctx context.Context, connection, creds, configuration config.Values) ([]*core.StreamDescriptor, error) {
	dsn, err := pgutil.ConnectionString(connection, creds)
	if err != nil {
		return nil, err
	}
	id, err := pgutil.Identifier(connection)
	if err != nil {
		return nil, err
	}
	schema := pgutil.Schema(connection)

	db, err := s.connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)

	tables, err := db.Tables(ctx, schema)
	if err != nil {
		return nil, err
	}
	tables, err = selectTables(tables, configuration.GetStrings("tables"), schema)
	if err != nil {
		return nil, err
	}

	descriptors := make([]*core.StreamDescriptor, 0, len(tables))
	for _, t := range tables {
		name := t.Name + ".csv"
		d := core.NewStreamDescriptor(name, "postgres://"+id+"/"+schema+"."+t.Name, base.StreamSetSlug(name),
			s.opener(dsn, schema, t.Name))
		d.MimeType = "text/csv"
		d.Fingerprint = t.Fingerprint()
		descriptors = append(descriptors, d)
	}
	s.logger.Debug("discovered tables", zap.String("schema", schema), zap.Int("count", len(descriptors)))
	return descriptors, nil
}

func selectTables(all []Table, only []string, schema string) ([]Table, error) {
	if len(only) == 0 {
		if len(all) == 0 {
			return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("schema %q has no tables", schema))
		}
		return all, nil
	}
	byName := make(map[string]Table, len(all))
	for _, t := range all {
		byName[t.Name] = t
	}
	out := make([]Table, 0, len(only))
	for _, name := range only {
		t, ok := byName[name]
		if !ok {
			return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("table %q not found in schema %q", name, schema)).
				WithDetail("table", name)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// opener streams the table through a pipe on a connection of its own.
// Closing the reader early aborts the COPY.
func (s *Source) opener(dsn, schema, table string) core.Opener {
	return func(ctx context.Context) (*core.OpenedStream, error) {
		db, err := s.connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		pr, pw := io.Pipe()
		go func() {
			defer db.Close(context.WithoutCancel(ctx))
			pw.CloseWithError(db.CopyCSV(ctx, pw, schema, table))
		}()
		return &core.OpenedStream{Reader: pr, Size: -1, MimeType: "text/csv"}, nil
	}
}

type pgDatabase struct {
	conn *pgx.Conn
}

// Connect opens a single pgx connection.
func Connect(ctx context.Context, dsn string) (Database, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, pgutil.ClassifyError(err, "failed to connect to PostgreSQL")
	}
	return &pgDatabase{conn: conn}, nil
}

func (d *pgDatabase) Tables(ctx context.Context, schema string) ([]Table, error) {
	rows, err := d.conn.Query(ctx, tablesQuery, schema)
	if err != nil {
		return nil, pgutil.ClassifyError(err, "failed to list tables")
	}
	tables, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Table])
	if err != nil {
		return nil, pgutil.ClassifyError(err, "failed to list tables")
	}
	return tables, nil
}

func (d *pgDatabase) CopyCSV(ctx context.Context, w io.Writer, schema, table string) error {
	sql := fmt.Sprintf("COPY (SELECT * FROM %s) TO STDOUT WITH (FORMAT csv, HEADER true)",
		pgx.Identifier{schema, table}.Sanitize())
	if _, err := d.conn.PgConn().CopyTo(ctx, w, sql); err != nil {
		return pgutil.ClassifyError(err, "failed to export "+schema+"."+table)
	}
	return nil
}

func (d *pgDatabase) Close(ctx context.Context) error {
	return d.conn.Close(ctx)
}
