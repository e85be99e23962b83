package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/herd/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas are applied to every pooled connection. Writers take the lock up
// front so concurrent recorders wait on busy_timeout instead of failing.
var pragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// SQLiteStore keeps run history in a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config sizes the connection pool of a SQLiteStore. Zero values take
// defaults.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 8
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// NewSQLiteStore returns an unopened store; call Init and Migrate before
// use, or use Open.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	cfg.setDefaults()
	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Open returns a store at path with the schema migrated to the latest
// version.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	q := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		q = append(q, "_pragma="+p)
	}
	q = append(q, "_txlock=immediate")
	return "file:" + s.path + "?" + strings.Join(q, "&")
}

// Init opens the connection pool and checks the file is usable.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

// Close releases the pool. It is safe on a store that was never opened.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Migrate applies the embedded schema migrations that have not run yet.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	target, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", target)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	switch err := m.Up(); {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return nil
	default:
		return fmt.Errorf("migrate %s: %w", s.path, err)
	}
}

var errNotInitialized = errors.New("database not initialized")

// BeginTx starts a transaction on the pool.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db.BeginTx(ctx, nil)
}

// SaveRun stores a run summary and every host result in one transaction.
// Saving the same run twice replaces the earlier record.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *engine.AggregatedResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("run has no id")
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, result.ID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, task, status, host_count, failed_count, changed, started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.Name,
		result.Status(),
		result.Len(),
		len(result.FailedHosts()),
		result.Changed(),
		result.StartedAt.UTC(),
		result.FinishedAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO host_results (run_id, host, seq, name, failed, changed, severity, diff, output, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare host result insert: %w", err)
	}
	defer stmt.Close()

	for _, host := range result.HostNames() {
		for seq, r := range result.Hosts[host] {
			var errMsg *string
			if r.Err != nil {
				msg := r.Err.Error()
				errMsg = &msg
			}
			_, err := stmt.ExecContext(ctx,
				result.ID,
				host,
				seq,
				r.Name,
				r.Failed,
				r.Changed,
				r.Severity.String(),
				r.Diff,
				encodePayload(r.Payload),
				errMsg,
				r.StartedAt.UTC(),
				r.FinishedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to create host result %s/%d: %w", host, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// encodePayload renders a payload for the output column: strings as they
// are, anything else as JSON, falling back to its fmt form.
func encodePayload(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case fmt.Stringer:
		return p.String()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(b)
}

const runColumns = `id, task, status, host_count, failed_count, changed, started_at, finished_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Task,
		&run.Status,
		&run.HostCount,
		&run.FailedCount,
		&run.Changed,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	return run, err
}

// GetRun returns the run with id, wrapping ErrRunNotFound when missing.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// LatestRun returns the most recently started run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT 1`

	run, err := scanRun(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first, with optional filtering and pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`

	var (
		where []string
		args  []any
	)
	if filter.Task != "" {
		where = append(where, "task = ?")
		args = append(args, filter.Task)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its host results
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// PruneRuns deletes runs started before the given time and returns how
// many were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// ListHostResults returns the stored results of a run ordered by host and
// sequence. A non-empty host restricts them to that host.
func (s *SQLiteStore) ListHostResults(ctx context.Context, runID string, host string) ([]*HostResult, error) {
	query := `
		SELECT id, run_id, host, seq, name, failed, changed, severity, diff, output, error, started_at, finished_at
		FROM host_results
		WHERE run_id = ?
	`
	args := []any{runID}
	if host != "" {
		query += " AND host = ?"
		args = append(args, host)
	}
	query += " ORDER BY host, seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list host results: %w", err)
	}
	defer rows.Close()

	results := []*HostResult{}
	for rows.Next() {
		r := &HostResult{}
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Host,
			&r.Seq,
			&r.Name,
			&r.Failed,
			&r.Changed,
			&r.Severity,
			&r.Diff,
			&r.Output,
			&r.Error,
			&r.StartedAt,
			&r.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating host results: %w", err)
	}

	return results, nil
}

// FailedHosts returns the sorted names of the hosts that failed in a run.
func (s *SQLiteStore) FailedHosts(ctx context.Context, runID string) ([]string, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT host FROM host_results
		WHERE run_id = ? AND failed = 1
		ORDER BY host
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed hosts: %w", err)
	}
	defer rows.Close()

	hosts := []string{}
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed hosts: %w", err)
	}

	return hosts, nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}
	return s.db.PingContext(ctx)
}
