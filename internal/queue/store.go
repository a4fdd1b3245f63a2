package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/clipcloud/internal/auth"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlLoadJobs = `SELECT id, provider, local_path, remote_path, status, progress,
		retries, error, object_id, web_url, size, created_at, updated_at
		FROM jobs ORDER BY created_at, id`

	sqlSaveJob = `INSERT INTO jobs (id, provider, local_path, remote_path, status,
		progress, retries, error, object_id, web_url, size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			retries = excluded.retries,
			error = excluded.error,
			object_id = excluded.object_id,
			web_url = excluded.web_url,
			size = excluded.size,
			updated_at = excluded.updated_at`

	sqlDeleteJob       = `DELETE FROM jobs WHERE id = ?`
	sqlDeleteCompleted = `DELETE FROM jobs WHERE status = 'complete'`

	// An upload that was in flight when the process died is assumed lost.
	sqlDemoteUploading = `UPDATE jobs SET status = 'pending', progress = 0, updated_at = ?
		WHERE status = 'uploading'`
)

// Store persists jobs in SQLite. It is written only by Queue, after status
// transitions; progress ticks stay in memory.
//
// One process at a time owns the database: OpenStore holds an exclusive
// lock until Close, and only the owner demotes interrupted uploads or writes.
// OpenStoreReadOnly never takes the lock, so it works alongside a running
// owner and sees its last persisted state.
type Store struct {
	db       *sql.DB
	lock     *os.File
	readOnly bool
	logger   *slog.Logger
}

// OpenStore opens (creating if needed) the job database at dbPath, takes
// ownership of it and applies migrations. It returns ErrLocked when another
// process owns the database. The database uses WAL mode with
// synchronous=FULL so a status transition that returned is durable.
func OpenStore(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	lock, err := acquireLock(dbPath)
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, dbPath, logger, true)
	if err != nil {
		lock.Close()
		return nil, err
	}

	s.lock = lock

	return s, nil
}

// OpenStoreReadOnly opens the job database without keeping ownership. Writes
// return ErrReadOnly and Load leaves uploading jobs as they are. Migrations
// run only when no other process owns the database; an owner has already
// applied them.
func OpenStoreReadOnly(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	lock, err := acquireLock(dbPath)
	if err != nil && !errors.Is(err, ErrLocked) {
		return nil, err
	}

	s, err := openStore(ctx, dbPath, logger, lock != nil)

	if lock != nil {
		lock.Close()
	}

	if err != nil {
		return nil, err
	}

	s.readOnly = true

	return s, nil
}

func openStore(ctx context.Context, dbPath string, logger *slog.Logger, migrate bool) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if migrate {
		if err := runMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Debug("job database ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations to the database.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("queue: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("queue: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("queue: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// ReadOnly reports whether the store was opened without ownership.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close closes the database and releases ownership. Closing twice is safe.
func (s *Store) Close() error {
	err := s.db.Close()

	if s.lock != nil {
		s.lock.Close()
		s.lock = nil
	}

	return err
}

func (s *Store) writable() error {
	if s.readOnly {
		return ErrReadOnly
	}

	return nil
}

// Load returns every job in creation order. The owner first demotes uploads
// interrupted by a previous process to pending; a read-only store cannot tell
// an interrupted upload from one in flight elsewhere and leaves them alone.
func (s *Store) Load(ctx context.Context, now time.Time) ([]*Job, error) {
	if !s.readOnly {
		res, err := s.db.ExecContext(ctx, sqlDemoteUploading, now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("queue: demoting interrupted uploads: %w", err)
		}

		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.logger.Warn("interrupted uploads returned to pending", slog.Int64("jobs", n))
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlLoadJobs)
	if err != nil {
		return nil, fmt.Errorf("queue: loading jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterating job rows: %w", err)
	}

	return jobs, nil
}

func scanJob(rows *sql.Rows) (*Job, error) {
	var (
		j                Job
		provider, status string
		created, updated int64
	)

	err := rows.Scan(&j.ID, &provider, &j.LocalPath, &j.RemotePath, &status, &j.Progress,
		&j.Retries, &j.Error, &j.ObjectID, &j.WebURL, &j.Size, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("queue: scanning job row: %w", err)
	}

	j.Provider = auth.Provider(provider)
	j.Status = Status(status)
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()

	return &j, nil
}

// Save inserts or updates j.
func (s *Store) Save(ctx context.Context, j *Job) error {
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, sqlSaveJob,
		j.ID, string(j.Provider), j.LocalPath, j.RemotePath, string(j.Status), j.Progress,
		j.Retries, j.Error, j.ObjectID, j.WebURL, j.Size,
		j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("queue: saving job %s: %w", j.ID, err)
	}

	return nil
}

// Delete removes the job with id. Deleting a missing job is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.writable(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlDeleteJob, id); err != nil {
		return fmt.Errorf("queue: deleting job %s: %w", id, err)
	}

	return nil
}

// DeleteCompleted removes every complete job and returns how many went.
func (s *Store) DeleteCompleted(ctx context.Context) (int64, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, sqlDeleteCompleted)
	if err != nil {
		return 0, fmt.Errorf("queue: clearing completed jobs: %w", err)
	}

	return res.RowsAffected()
}
