// Package postgres implements a sink that loads each stream set into a
// PostgreSQL table with COPY. Batch deliveries recreate the table inside the
// loading transaction; append deliveries add rows to it. Sink state lives in
// a table of its own in the same schema.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/connector/shared/pgutil"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/logger"
	"github.com/ajitpratap0/datapkg/pkg/metrics"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// Type is the registry name of the sink.
const Type = "postgres"

const (
	defaultBatchSize = 10000
	defaultMaxConns  = 4

	// StateTable holds one state document per key.
	StateTable = "_datapkg_sink_state"
)

// DB is the part of a connection pool the sink uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Sink loads records into PostgreSQL tables.
type Sink struct {
	db        DB
	pool      *pgxpool.Pool
	schema    string
	batchSize int
	logger    *zap.Logger
}

// NewSink connects to the database and makes sure the state table exists.
func NewSink(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
	dsn, err := pgutil.ConnectionString(settings.Connection, settings.Credentials)
	if err != nil {
		return nil, err
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection settings")
	}
	poolConfig.MaxConns = defaultMaxConns
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}
	s, err := NewSinkWithDB(ctx, settings, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// NewSinkWithDB creates a sink over an existing pool.
func NewSinkWithDB(ctx context.Context, settings core.SinkSettings, db DB) (*Sink, error) {
	l := settings.Logger
	if l == nil {
		l = logger.Get()
	}
	schema := pgutil.Schema(settings.Connection)
	batchSize := defaultBatchSize
	if n, ok := settings.Configuration.GetFloat("batchSize"); ok && n >= 1 {
		batchSize = int(n)
	}

	s := &Sink{db: db, schema: schema, batchSize: batchSize, logger: l}
	if _, err := db.Exec(ctx, s.stateTableDDL()); err != nil {
		return nil, pgutil.ClassifyError(err, "failed to create sink state table")
	}
	return s, nil
}

// Type implements core.Sink.
func (s *Sink) Type() string { return Type }

// SupportedStreamOptions implements core.Sink. A table holds a whole stream
// set, so streams are never written separately.
func (s *Sink) SupportedStreamOptions(configuration config.Values, prior *state.SinkState) core.SinkStreamOptions {
	return core.SinkStreamOptions{
		UpdateMethods:              []core.UpdateMethod{core.UpdateMethodBatchFullSet, core.UpdateMethodAppendOnlyLog},
		StreamSetProcessingMethods: []core.StreamSetProcessingMethod{core.ProcessPerStreamSet},
	}
}

// TableName is the table a target loads into: the schema title as a lower
// case identifier, suffixed with the package major version.
func TableName(target core.WriteTarget) string {
	name := strings.ReplaceAll(packagefile.Slugify(target.SchemaTitle), "-", "_")
	if name == "" {
		name = "records"
	}
	return fmt.Sprintf("%s_v%d", name, target.Key.MajorVersion)
}

// ColumnDDL maps a column type to its PostgreSQL type.
func ColumnDDL(t core.ColumnType) string {
	switch t {
	case core.ColumnDouble:
		return "double precision"
	case core.ColumnLong:
		return "bigint"
	case core.ColumnBoolean:
		return "boolean"
	default:
		return "text"
	}
}

// CreateTableDDL creates the table for target when missing.
func (s *Sink) CreateTableDDL(target core.WriteTarget) string {
	defs := make([]string, 0, len(target.Columns))
	for _, col := range target.Columns {
		defs = append(defs, pgx.Identifier{col}.Sanitize()+" "+ColumnDDL(target.ColumnTypes[col]))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier{s.schema, TableName(target)}.Sanitize(), strings.Join(defs, ", "))
}

// OpenWriter implements core.Sink. The loading transaction starts here and
// ends in Commit or Abort.
func (s *Sink) OpenWriter(ctx context.Context, target core.WriteTarget) (core.RecordWriter, error) {
	if target.StreamName != "" {
		return nil, errors.New(errors.ErrorTypeConfig, "the postgres sink loads whole stream sets, not single streams")
	}
	if len(target.Columns) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("schema %q has no columns to load", target.SchemaTitle))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, pgutil.ClassifyError(err, "failed to begin transaction")
	}
	table := pgx.Identifier{s.schema, TableName(target)}

	statements := []string{}
	if !target.Append {
		statements = append(statements, "DROP TABLE IF EXISTS "+table.Sanitize())
	}
	statements = append(statements, s.CreateTableDDL(target))
	if target.Append {
		for _, col := range target.Columns {
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				table.Sanitize(), pgx.Identifier{col}.Sanitize(), ColumnDDL(target.ColumnTypes[col])))
		}
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, pgutil.ClassifyError(err, "failed to prepare table "+table.Sanitize())
		}
	}

	return &tableWriter{
		sink:   s,
		tx:     tx,
		table:  table,
		target: target,
		rows:   make([][]any, 0, s.batchSize),
		logger: s.logger.With(zap.String("table", table.Sanitize())),
	}, nil
}

// ReadState implements core.Sink.
func (s *Sink) ReadState(ctx context.Context, key state.Key) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx,
		fmt.Sprintf("SELECT state FROM %s WHERE catalog = $1 AND package = $2 AND major = $3",
			pgx.Identifier{s.schema, StateTable}.Sanitize()),
		key.CatalogSlug, key.PackageSlug, int64(key.MajorVersion)).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgutil.ClassifyError(err, "failed to read sink state")
	}
	return blob, nil
}

// WriteState implements core.Sink.
func (s *Sink) WriteState(ctx context.Context, key state.Key, blob []byte) error {
	_, err := s.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (catalog, package, major, state, updated_at) VALUES ($1, $2, $3, $4, now())
ON CONFLICT (catalog, package, major) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			pgx.Identifier{s.schema, StateTable}.Sanitize()),
		key.CatalogSlug, key.PackageSlug, int64(key.MajorVersion), string(blob))
	if err != nil {
		return pgutil.ClassifyError(err, "failed to write sink state")
	}
	return nil
}

// Close closes the pool when the sink created it.
func (s *Sink) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Sink) stateTableDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	catalog text NOT NULL,
	package text NOT NULL,
	major bigint NOT NULL,
	state jsonb NOT NULL,
	updated_at timestamptz NOT NULL,
	PRIMARY KEY (catalog, package, major)
)`, pgx.Identifier{s.schema, StateTable}.Sanitize())
}

// tableWriter copies records into the table in batches of the sink's batch size.
type tableWriter struct {
	sink   *Sink
	tx     pgx.Tx
	table  pgx.Identifier
	target core.WriteTarget
	rows   [][]any
	logger *zap.Logger

	records  int64
	finished bool
}

func (w *tableWriter) Write(ctx context.Context, record *core.Record) error {
	row := make([]any, len(w.target.Columns))
	for i, col := range w.target.Columns {
		v, err := columnValue(record.Values[col], w.target.ColumnTypes[col])
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFormat,
				fmt.Sprintf("column %s cannot be loaded as %s", col, ColumnDDL(w.target.ColumnTypes[col]))).
				WithDetail("offset", record.Offset)
		}
		row[i] = v
	}
	w.rows = append(w.rows, row)
	if len(w.rows) >= w.sink.batchSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *tableWriter) flush(ctx context.Context) error {
	if len(w.rows) == 0 {
		return nil
	}
	n, err := w.tx.CopyFrom(ctx, w.table, w.target.Columns, pgx.CopyFromRows(w.rows))
	if err != nil {
		return pgutil.ClassifyError(err, "failed to copy rows into "+w.table.Sanitize())
	}
	w.records += n
	w.rows = w.rows[:0]
	return nil
}

func (w *tableWriter) Commit(ctx context.Context) (*core.CommitResult, error) {
	if w.finished {
		return nil, errors.New(errors.ErrorTypeInternal, "table writer already finished")
	}
	if err := w.flush(ctx); err != nil {
		return nil, err
	}
	if err := w.tx.Commit(ctx); err != nil {
		metrics.UploadFailures.WithLabelValues(Type).Inc()
		return nil, pgutil.ClassifyError(err, "failed to commit load")
	}
	w.finished = true
	w.logger.Debug("rows loaded", zap.Int64("records", w.records))
	return &core.CommitResult{Location: "postgres:" + w.table.Sanitize(), Records: w.records}, nil
}

func (w *tableWriter) Abort(ctx context.Context) error {
	if w.finished {
		return nil
	}
	w.finished = true
	if err := w.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return pgutil.ClassifyError(err, "failed to roll back load")
	}
	return nil
}

func columnValue(v interface{}, t core.ColumnType) (interface{}, error) {
	if s, ok := v.(string); ok && s == "" && t != core.ColumnString && t != "" {
		return nil, nil
	}
	if t == "" || t == core.ColumnString {
		if v == nil {
			return nil, nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return formats.Coerce(v, t)
}
