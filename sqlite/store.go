// Package sqlite implements persistent queuectl storage on an embedded
// SQLite database. It is the production Store: a single database file in
// WAL mode, shared by the CLI, the worker manager and the read-only
// dashboard.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff"
	_ "modernc.org/sqlite"

	"github.com/olivere/queuectl"
	"github.com/olivere/queuectl/sqlite/internal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	state TEXT NOT NULL CHECK (state IN ('pending','processing','completed','failed','dead')),
	attempts INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	priority INTEGER NOT NULL DEFAULT 0,
	run_at TEXT NOT NULL,
	next_run_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	exit_code INTEGER,
	error TEXT,
	stdout TEXT,
	stderr TEXT,
	claimed_by TEXT,
	claimed_at TEXT
);
CREATE INDEX IF NOT EXISTS ix_jobs_claim ON jobs(state, priority DESC, next_run_at ASC, created_at ASC);
CREATE INDEX IF NOT EXISTS ix_jobs_state ON jobs(state);
CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// timeLayout is a fixed-width RFC3339 variant. Fixed width keeps the
// lexicographic order of stored timestamps identical to their
// chronological order, which the claim predicate relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var errReadOnly = errors.New("sqlite: store is read-only")

// Store represents a persistent SQLite storage implementation.
// It implements the queuectl.Store interface.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	backoff  queuectl.BackoffFunc
	logger   queuectl.Logger
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// SetBackoffFunc specifies the backoff function that returns the time
// span between retries of failed jobs. Exponential backoff is used by
// default.
func SetBackoffFunc(fn queuectl.BackoffFunc) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.backoff = fn
		}
	}
}

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger queuectl.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore initializes a new SQLite-based storage at the given file path
// and creates the schema.
func NewStore(path string, options ...StoreOption) (*Store, error) {
	st, err := open(path, false, options...)
	if err != nil {
		return nil, err
	}
	if err := st.Init(context.Background()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// NewReadOnlyStore opens the database read-only. Every mutating
// operation fails. The dashboard uses this to guarantee it never touches
// the store's write path.
func NewReadOnlyStore(path string, options ...StoreOption) (*Store, error) {
	return open(path, true, options...)
}

func open(path string, readOnly bool, options ...StoreOption) (*Store, error) {
	st := &Store{
		path:     path,
		readOnly: readOnly,
		backoff:  queuectl.ExponentialBackoff,
		logger:   nopLogger{},
	}
	for _, opt := range options {
		opt(st)
	}

	dsn := path
	if readOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", path)
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time; funnel all statements through a
	// single connection so transactions in this process never contend
	// with each other.
	db.SetMaxOpenConns(1)

	if !readOnly {
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 10000",
			"PRAGMA synchronous = NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	st.db = db
	return st, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema if it is absent. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	if s.readOnly {
		return errReadOnly
	}
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// wrapError maps driver errors to queuectl-specific errors.
func (s *Store) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if internal.IsNotFound(err) {
		return queuectl.ErrNotFound
	}
	if internal.IsDup(err) {
		return queuectl.ErrDuplicateID
	}
	return err
}

// retryBackoff bounds how long a write waits for another process to
// release the database lock.
func retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return b
}

// retryable reports whether an operation should be repeated. Lock
// contention is transient; everything else aborts.
func (s *Store) retryable(err error) bool {
	if internal.IsBusy(err) {
		s.logger.Printf("sqlite: database busy, retrying: %v", err)
		return true
	}
	return false
}

// exec runs a mutating statement with busy-retry.
func (s *Store) exec(ctx context.Context, fn func(context.Context) error) error {
	return internal.RunWithRetryBackoff(ctx, s.db, fn, s.retryable, retryBackoff())
}

// -- Jobs --

// Enqueue adds a new job to the store.
func (s *Store) Enqueue(ctx context.Context, job *queuectl.Job) error {
	if s.readOnly {
		return errReadOnly
	}
	query, args, err := sq.Insert("jobs").
		Columns("id", "command", "state", "attempts", "max_retries", "priority",
			"run_at", "next_run_at", "created_at", "updated_at").
		Values(job.ID, job.Command, job.State, job.Attempts, job.MaxRetries, job.Priority,
			formatTime(job.RunAt), formatTime(job.NextRunAt),
			formatTime(job.CreatedAt), formatTime(job.UpdatedAt)).
		ToSql()
	if err != nil {
		return err
	}
	err = s.exec(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	return s.wrapError(err)
}

// Claim atomically picks the next eligible job and transitions it to
// processing. The selection and the guarded update run in one
// transaction; the state guard on the update makes concurrent claimers
// lose cleanly and find nothing on the re-read.
func (s *Store) Claim(ctx context.Context, workerID string, now time.Time) (*queuectl.Job, error) {
	if s.readOnly {
		return nil, errReadOnly
	}
	var claimed *queuectl.Job
	err := internal.RunInTxWithRetryBackoff(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		claimed = nil

		query, args, err := sq.Select("id").
			From("jobs").
			Where(sq.Eq{"state": queuectl.Pending}).
			Where(sq.LtOrEq{"next_run_at": formatTime(now)}).
			OrderBy("priority DESC", "next_run_at ASC", "created_at ASC", "id ASC").
			Limit(1).
			ToSql()
		if err != nil {
			return err
		}
		var id string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			if internal.IsNotFound(err) {
				return nil
			}
			return err
		}

		query, args, err = sq.Update("jobs").
			Set("state", queuectl.Processing).
			Set("claimed_by", workerID).
			Set("claimed_at", formatTime(now)).
			Set("started_at", formatTime(now)).
			Set("updated_at", formatTime(now)).
			Where(sq.Eq{"id": id, "state": queuectl.Pending}).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			// Another worker got there first.
			return nil
		}

		row := tx.QueryRowContext(ctx, selectJob+" WHERE id = ?", id)
		job, err := scanJob(row)
		if err != nil {
			return err
		}
		claimed = job
		return nil
	}, s.retryable, retryBackoff())
	if err != nil {
		return nil, s.wrapError(err)
	}
	return claimed, nil
}

// Complete finalizes a processing job as completed.
func (s *Store) Complete(ctx context.Context, id string, exitCode int, stdout, stderr string, now time.Time) error {
	if s.readOnly {
		return errReadOnly
	}
	query, args, err := sq.Update("jobs").
		Set("state", queuectl.Completed).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("exit_code", exitCode).
		Set("error", nil).
		Set("stdout", stdout).
		Set("stderr", stderr).
		Set("claimed_by", nil).
		Set("claimed_at", nil).
		Set("finished_at", formatTime(now)).
		Set("updated_at", formatTime(now)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	err = s.exec(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return queuectl.ErrNotFound
		}
		return nil
	})
	return s.wrapError(err)
}

// Fail finalizes a processing job after a failed attempt. The attempt
// counter increments; with the budget exhausted the job becomes dead,
// otherwise it returns to pending with a backoff delay.
func (s *Store) Fail(ctx context.Context, id string, exitCode int, errMsg, stdout, stderr string, now time.Time, backoffBase int) error {
	if s.readOnly {
		return errReadOnly
	}
	err := internal.RunInTxWithRetryBackoff(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var attempts, maxRetries int
		err := tx.QueryRowContext(ctx, "SELECT attempts, max_retries FROM jobs WHERE id = ?", id).
			Scan(&attempts, &maxRetries)
		if err != nil {
			return err
		}
		attempts++

		upd := sq.Update("jobs").
			Set("attempts", attempts).
			Set("exit_code", exitCode).
			Set("error", errMsg).
			Set("stdout", stdout).
			Set("stderr", stderr).
			Set("claimed_by", nil).
			Set("claimed_at", nil).
			Set("updated_at", formatTime(now)).
			Where(sq.Eq{"id": id})
		if attempts >= maxRetries {
			upd = upd.
				Set("state", queuectl.Dead).
				Set("finished_at", formatTime(now))
		} else {
			delay := s.backoff(backoffBase, attempts)
			upd = upd.
				Set("state", queuectl.Pending).
				Set("next_run_at", formatTime(now.Add(delay)))
		}
		query, args, err := upd.ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	}, s.retryable, retryBackoff())
	return s.wrapError(err)
}

// Get retrieves a single job in the store by its identifier.
func (s *Store) Get(ctx context.Context, id string) (*queuectl.Job, error) {
	row := s.db.QueryRowContext(ctx, selectJob+" WHERE id = ?", id)
	job, err := scanJob(row)
	if err != nil {
		return nil, s.wrapError(err)
	}
	return job, nil
}

// List returns jobs matching the request, newest first.
func (s *Store) List(ctx context.Context, req *queuectl.ListRequest) ([]*queuectl.Job, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	qry := sq.Select(jobColumns...).
		From("jobs").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(req.Offset))
	if req.State != "" {
		qry = qry.Where(sq.Eq{"state": req.State})
	}
	query, args, err := qry.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer rows.Close()

	var jobs []*queuectl.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, s.wrapError(err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountsByState returns the number of jobs per state.
func (s *Store) CountsByState(ctx context.Context) (*queuectl.Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer rows.Close()

	stats := &queuectl.Stats{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		switch state {
		case queuectl.Pending:
			stats.Pending = count
		case queuectl.Processing:
			stats.Processing = count
		case queuectl.Completed:
			stats.Completed = count
		case queuectl.Failed:
			stats.Failed = count
		case queuectl.Dead:
			stats.Dead = count
		}
	}
	return stats, rows.Err()
}

// DLQRetry moves a dead job back to pending with a reset attempt counter
// and cleared outputs.
func (s *Store) DLQRetry(ctx context.Context, id string, maxRetries *int, now time.Time) error {
	if s.readOnly {
		return errReadOnly
	}
	upd := sq.Update("jobs").
		Set("state", queuectl.Pending).
		Set("attempts", 0).
		Set("next_run_at", formatTime(now)).
		Set("error", nil).
		Set("exit_code", nil).
		Set("stdout", nil).
		Set("stderr", nil).
		Set("claimed_by", nil).
		Set("claimed_at", nil).
		Set("finished_at", nil).
		Set("updated_at", formatTime(now)).
		Where(sq.Eq{"id": id, "state": queuectl.Dead})
	if maxRetries != nil {
		upd = upd.Set("max_retries", *maxRetries)
	}
	query, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	err = s.exec(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return queuectl.ErrNotFound
		}
		return nil
	})
	return s.wrapError(err)
}

// -- Config --

// ConfigSet stores a configuration value under its canonical key.
func (s *Store) ConfigSet(ctx context.Context, key, value string) error {
	if s.readOnly {
		return errReadOnly
	}
	err := s.exec(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)", key, value)
		return err
	})
	return s.wrapError(err)
}

// ConfigGet returns a configuration value, or an empty string if unset.
func (s *Store) ConfigGet(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if internal.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", s.wrapError(err)
	}
	return value, nil
}

// -- SQLite-internal representation of a job --

var jobColumns = []string{
	"id", "command", "state", "attempts", "max_retries", "priority",
	"run_at", "next_run_at", "created_at", "updated_at",
	"started_at", "finished_at", "exit_code", "error", "stdout", "stderr",
	"claimed_by", "claimed_at",
}

var selectJob = "SELECT " + strings.Join(jobColumns, ", ") + " FROM jobs"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*queuectl.Job, error) {
	var (
		job                    queuectl.Job
		runAt, nextRunAt       string
		createdAt, updatedAt   string
		startedAt, finishedAt  sql.NullString
		exitCode               sql.NullInt64
		errMsg, stdout, stderr sql.NullString
		claimedBy, claimedAt   sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Command, &job.State, &job.Attempts, &job.MaxRetries, &job.Priority,
		&runAt, &nextRunAt, &createdAt, &updatedAt,
		&startedAt, &finishedAt, &exitCode, &errMsg, &stdout, &stderr,
		&claimedBy, &claimedAt,
	)
	if err != nil {
		return nil, err
	}
	if job.RunAt, err = parseTime(runAt); err != nil {
		return nil, err
	}
	if job.NextRunAt, err = parseTime(nextRunAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	if job.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return nil, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		job.ExitCode = &code
	}
	job.Error = errMsg.String
	job.Stdout = stdout.String
	job.Stderr = stderr.String
	job.ClaimedBy = claimedBy.String
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{}) {}
