package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/pabawi/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ RunLog = (*SQLiteStore)(nil)

// SQLiteStore implements RunLog using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own empty database.
	if inMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// dsn builds the connection string. Pragmas are applied to every new
// connection by the driver.
func (s *SQLiteStore) dsn() string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
	}
	if !inMemory(s.cfg.Path) {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	return s.cfg.Path + sep + strings.Join(params, "&")
}

// Init opens the database connection and verifies it.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// SaveReport writes a report with its entries and warnings in one
// transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.RunReport, target string) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if report.RunID == "" {
		return fmt.Errorf("report has no run ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var firstFailure *string
	if report.FirstFailure != nil {
		firstFailure = &report.FirstFailure.ResourceID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, target, status, dry_run, started_at, completed_at,
			total, unchanged, changed, failed, skipped, planned, first_failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		target,
		string(report.Status),
		report.DryRun,
		report.StartedAt.UnixNano(),
		report.CompletedAt.UnixNano(),
		report.Summary.Total,
		report.Summary.Unchanged,
		report.Summary.Changed,
		report.Summary.Failed,
		report.Summary.Skipped,
		report.Summary.Planned,
		firstFailure,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	for i, e := range report.Entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_entries (run_id, seq, resource_id, kind, owner, outcome,
				detail, reason, retryable, fatal, refreshed, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID, i, e.ResourceID, string(e.Kind), e.Owner, string(e.Outcome),
			e.Detail, e.Reason, e.Retryable, e.Fatal, e.Refreshed, int64(e.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ResourceID, err)
		}
	}

	for i, w := range report.Warnings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_warnings (run_id, seq, field, name, component)
			VALUES (?, ?, ?, ?, ?)
		`, report.RunID, i, w.Field, w.Name, w.Component)
		if err != nil {
			return fmt.Errorf("failed to insert warning: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	return nil
}

const runColumns = `id, target, status, dry_run, started_at, completed_at,
	total, unchanged, changed, failed, skipped, planned, first_failure`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run          RunRecord
		status       string
		started      int64
		completed    int64
		firstFailure sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.Target,
		&status,
		&run.DryRun,
		&started,
		&completed,
		&run.Summary.Total,
		&run.Summary.Unchanged,
		&run.Summary.Changed,
		&run.Summary.Failed,
		&run.Summary.Skipped,
		&run.Summary.Planned,
		&firstFailure,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	run.StartedAt = time.Unix(0, started).UTC()
	run.CompletedAt = time.Unix(0, completed).UTC()
	run.FirstFailure = firstFailure.String
	return &run, nil
}

// ListRuns returns runs ordered newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
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

// GetRun retrieves a run header by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// GetReport rebuilds the report of a logged run in its original entry order.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*engine.RunReport, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &engine.RunReport{
		RunID:       run.ID,
		Status:      run.Status,
		DryRun:      run.DryRun,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Summary:     run.Summary,
		Entries:     []engine.ReportEntry{},
	}

	if report.Entries, err = s.entries(ctx, id); err != nil {
		return nil, err
	}
	if report.Warnings, err = s.warnings(ctx, id); err != nil {
		return nil, err
	}

	if run.FirstFailure != "" {
		if e, ok := report.Entry(run.FirstFailure); ok {
			report.FirstFailure = &e
		}
	}

	return report, nil
}

func (s *SQLiteStore) entries(ctx context.Context, runID string) ([]engine.ReportEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, kind, owner, outcome, detail, reason, retryable, fatal, refreshed, duration_ns
		FROM run_entries
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []engine.ReportEntry{}
	for rows.Next() {
		var (
			e        engine.ReportEntry
			kind     string
			outcome  string
			duration int64
		)
		if err := rows.Scan(&e.ResourceID, &kind, &e.Owner, &outcome, &e.Detail, &e.Reason,
			&e.Retryable, &e.Fatal, &e.Refreshed, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Kind = engine.ResourceKind(kind)
		e.Outcome = engine.OutcomeStatus(outcome)
		e.Duration = time.Duration(duration)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) warnings(ctx context.Context, runID string) ([]engine.UnresolvedReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, name, component FROM run_warnings WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	var warnings []engine.UnresolvedReference
	for rows.Next() {
		var w engine.UnresolvedReference
		if err := rows.Scan(&w.Field, &w.Name, &w.Component); err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		warnings = append(warnings, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating warnings: %w", err)
	}
	return warnings, nil
}

// PruneRuns keeps the newest keep runs. Entries and warnings go with their
// run through the foreign key cascade.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative: %d", keep)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
