package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codesearch/pkg/entity"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNoJob is returned by ClaimNext when nothing is claimable
	ErrNoJob = errors.New("no claimable job")
)

// DefaultMaxRetries is the attempt budget before a job is dead-lettered.
const DefaultMaxRetries = 3

// Store is the durable SQLite layer: repository catalog, indexed
// entity records, and the priority job queue.
type Store struct {
	db         *sql.DB
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries overrides the job attempt budget.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// openDatabase opens a SQLite database with appropriate settings.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open opens (or creates) the store at dbPath and applies migrations.
func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &Store{db: db, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Repository catalog

// UpsertRepository inserts or refreshes a repository record. An empty
// ID is derived from the source so re-registering the same source
// targets the same row.
func (s *Store) UpsertRepository(ctx context.Context, repo *entity.Repository) error {
	if repo.Name == "" {
		repo.Name = entity.RepoNameFromSource(repo.Source)
	}
	if err := repo.Validate(); err != nil {
		return err
	}
	if repo.ID == "" {
		repo.ID = entity.DeriveRepoID(repo.Source)
	}

	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, source, branch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			branch = excluded.branch,
			updated_at = excluded.updated_at
	`, repo.ID, repo.Name, repo.Source, repo.Branch, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert repository: %w", err)
	}
	return nil
}

// GetRepository fetches a repository by ID.
func (s *Store) GetRepository(ctx context.Context, id string) (*entity.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source, branch, entity_count, last_indexed_at, created_at, updated_at
		FROM repositories WHERE id = ?
	`, id)
	return scanRepository(row)
}

// GetRepositoryBySource fetches a repository by its clone URL or path.
func (s *Store) GetRepositoryBySource(ctx context.Context, source string) (*entity.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source, branch, entity_count, last_indexed_at, created_at, updated_at
		FROM repositories WHERE source = ?
	`, source)
	return scanRepository(row)
}

// ListRepositories returns all registered repositories ordered by name.
func (s *Store) ListRepositories(ctx context.Context) ([]entity.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source, branch, entity_count, last_indexed_at, created_at, updated_at
		FROM repositories ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []entity.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

// UpdateRepositoryStats records the entity count and indexing time
// after a successful job.
func (s *Store) UpdateRepositoryStats(ctx context.Context, id string, entityCount int, lastIndexed time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories
		SET entity_count = ?, last_indexed_at = ?, updated_at = ?
		WHERE id = ?
	`, entityCount, lastIndexed.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update repository stats: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteRepository removes a repository and, via cascade, its entities.
func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	return requireRowAffected(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (*entity.Repository, error) {
	var repo entity.Repository
	var branch sql.NullString
	var lastIndexed sql.NullTime

	err := row.Scan(&repo.ID, &repo.Name, &repo.Source, &branch, &repo.EntityCount,
		&lastIndexed, &repo.CreatedAt, &repo.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}

	repo.Branch = branch.String
	if lastIndexed.Valid {
		repo.LastIndexed = lastIndexed.Time
	}
	return &repo, nil
}

// Entity records

// UpsertEntities writes entity records in one transaction, replacing
// rows with the same ID.
func (s *Store) UpsertEntities(ctx context.Context, entities []entity.CodeEntity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entities
			(id, repo_id, file_path, name, kind, language, start_line, end_line,
			 signature, doc_comment, parent, parameters, return_type, source, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range entities {
		e := &entities[i]
		params, err := json.Marshal(e.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters for %s: %w", e.ID, err)
		}
		_, err = stmt.ExecContext(ctx, e.ID, e.RepoID, e.FilePath, e.Name, string(e.Kind),
			string(e.Language), e.StartLine, e.EndLine, e.Signature, e.DocComment,
			e.Parent, string(params), e.ReturnType, e.Source, e.ContentHash)
		if err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// GetEntities fetches entity records by ID. Unknown IDs are silently
// absent from the result.
func (s *Store) GetEntities(ctx context.Context, ids []string) ([]entity.CodeEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, repo_id, file_path, name, kind, language, start_line, end_line,
		       signature, doc_comment, parent, parameters, return_type, source, content_hash
		FROM entities WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []entity.CodeEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// ListEntityIDs returns all entity IDs for a repository, optionally
// narrowed to one file.
func (s *Store) ListEntityIDs(ctx context.Context, repoID, filePath string) ([]string, error) {
	query := `SELECT id FROM entities WHERE repo_id = ?`
	args := []interface{}{repoID}
	if filePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filePath)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entity ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEntities removes entity records by ID.
func (s *Store) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM entities WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	return nil
}

// CountEntities returns the number of entity records for a repository.
func (s *Store) CountEntities(ctx context.Context, repoID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE repo_id = ?`, repoID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return count, nil
}

func scanEntity(row rowScanner) (*entity.CodeEntity, error) {
	var e entity.CodeEntity
	var kind, language, params string
	var signature, docComment, parent, returnType, source, contentHash sql.NullString

	err := row.Scan(&e.ID, &e.RepoID, &e.FilePath, &e.Name, &kind, &language,
		&e.StartLine, &e.EndLine, &signature, &docComment, &parent, &params,
		&returnType, &source, &contentHash)
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}

	e.Kind = entity.Kind(kind)
	e.Language = entity.Language(language)
	e.Signature = signature.String
	e.DocComment = docComment.String
	e.Parent = parent.String
	e.ReturnType = returnType.String
	e.Source = source.String
	e.ContentHash = contentHash.String

	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &e.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters for %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// Job queue

// Enqueue adds an indexing job for a source. Priority is clamped to
// the supported range; higher priorities are claimed first.
func (s *Store) Enqueue(ctx context.Context, source, branch string, priority int) (*entity.IndexJob, error) {
	if source == "" {
		return nil, errors.New("job source is required")
	}

	job := &entity.IndexJob{
		ID:         uuid.NewString(),
		RepoID:     entity.DeriveRepoID(source),
		Source:     source,
		Branch:     branch,
		Priority:   entity.ClampPriority(priority),
		Status:     entity.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, repo_id, source, branch, priority, status, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, job.ID, job.RepoID, job.Source, job.Branch, job.Priority, string(job.Status), job.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the highest-priority queued job, ties
// broken by enqueue order. Jobs for repositories that already have a
// running job are skipped, which keeps indexing per repository
// mutually exclusive. Returns ErrNoJob when nothing is claimable.
func (s *Store) ClaimNext(ctx context.Context) (*entity.IndexJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, repo_id, source, branch, priority, status, attempts, last_error,
		       enqueued_at, started_at, finished_at
		FROM jobs
		WHERE status = 'queued'
		  AND repo_id NOT IN (SELECT repo_id FROM jobs WHERE status = 'running')
		ORDER BY priority DESC, enqueued_at ASC, id ASC
		LIMIT 1
	`)

	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}

	if err := job.ValidateTransition(entity.JobRunning); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, started_at = ?
		WHERE id = ? AND status = 'queued'
	`, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if err := requireRowAffected(res); err != nil {
		return nil, ErrNoJob
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = entity.JobRunning
	job.Attempts++
	job.StartedAt = &now
	return job, nil
}

// MarkSucceeded finishes a running job.
func (s *Store) MarkSucceeded(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, entity.JobSucceeded, "")
}

// MarkFailed records a failure for a running job. While the attempt
// budget lasts the job goes back to queued for retry; once spent it is
// dead-lettered and never claimed again. Reports whether the job was
// requeued.
func (s *Store) MarkFailed(ctx context.Context, jobID, cause string) (bool, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if err := job.ValidateTransition(entity.JobFailed); err != nil {
		return false, err
	}

	// failed is transient here: the requeue-or-dead-letter decision is
	// taken in the same write.
	next := entity.JobQueued
	requeued := true
	if job.Attempts >= s.maxRetries {
		next = entity.JobDeadLettered
		requeued = false
	}
	if !entity.JobFailed.CanTransition(next) {
		return false, fmt.Errorf("illegal job transition %s -> %s", entity.JobFailed, next)
	}

	now := time.Now().UTC()
	var res sql.Result
	if requeued {
		res, err = s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, last_error = ?, started_at = NULL
			WHERE id = ? AND status = 'running'
		`, string(next), cause, jobID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, last_error = ?, finished_at = ?
			WHERE id = ? AND status = 'running'
		`, string(next), cause, now, jobID)
	}
	if err != nil {
		return false, fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	if err := requireRowAffected(res); err != nil {
		return false, fmt.Errorf("job %s is not running", jobID)
	}
	return requeued, nil
}

// ReleaseJob returns a running job to the queue and undoes the claim,
// giving the attempt back. Workers use it when a shutdown aborts a job
// before it could run on its own terms, so repeated restarts cannot
// drift a healthy job toward the dead letter queue.
func (s *Store) ReleaseJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', attempts = attempts - 1, started_at = NULL
		WHERE id = ? AND status = 'running'
	`, jobID)
	if err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	if err := requireRowAffected(res); err != nil {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

// CancelQueued removes a job that has not started.
func (s *Store) CancelQueued(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND status = 'queued'`, jobID)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if err := requireRowAffected(res); err != nil {
		return fmt.Errorf("job %s is not queued: %w", jobID, ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*entity.IndexJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, source, branch, priority, status, attempts, last_error,
		       enqueued_at, started_at, finished_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.IndexJob, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, repo_id, source, branch, priority, status, attempts, last_error,
		       enqueued_at, started_at, finished_at
		FROM jobs
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY enqueued_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []entity.IndexJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) finishJob(ctx context.Context, jobID string, next entity.JobStatus, cause string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := job.ValidateTransition(next); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = ?, finished_at = ?
		WHERE id = ? AND status = 'running'
	`, string(next), cause, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	if err := requireRowAffected(res); err != nil {
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

func scanJob(row rowScanner) (*entity.IndexJob, error) {
	var job entity.IndexJob
	var status string
	var branch, lastErr sql.NullString
	var started, finished sql.NullTime

	err := row.Scan(&job.ID, &job.RepoID, &job.Source, &branch, &job.Priority,
		&status, &job.Attempts, &lastErr, &job.EnqueuedAt, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = entity.JobStatus(status)
	job.Branch = branch.String
	job.LastErr = lastErr.String
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return &job, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
