package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/store"
)

// jobColumns must match the scan order in scanJob.
const jobColumns = `id, book_id, chapter_index, start_time, end_time, language,
	status, progress, priority, error, chunk_id,
	created_at, started_at, completed_at`

func scanJob(scanner interface{ Scan(dest ...any) error }) (*domain.TranscriptionJob, error) {
	var j domain.TranscriptionJob

	var (
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)

	err := scanner.Scan(
		&j.ID,
		&j.BookID,
		&j.ChapterIndex,
		&j.StartTime,
		&j.EndTime,
		&j.Language,
		&j.Status,
		&j.Progress,
		&j.Priority,
		&j.Error,
		&j.ChunkID,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	j.StartedAt, err = parseNullableTime(startedAt)
	if err != nil {
		return nil, err
	}
	j.CompletedAt, err = parseNullableTime(completedAt)
	if err != nil {
		return nil, err
	}

	return &j, nil
}

// CreateJob inserts a new transcription job.
// Returns store.ErrAlreadyExists on duplicate ID.
func (s *Store) CreateJob(ctx context.Context, job *domain.TranscriptionJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcription_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.BookID,
		job.ChapterIndex,
		job.StartTime,
		job.EndTime,
		job.Language,
		string(job.Status),
		job.Progress,
		job.Priority,
		job.Error,
		job.ChunkID,
		formatTime(job.CreatedAt),
		nullTimeString(job.StartedAt),
		nullTimeString(job.CompletedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// GetJob retrieves a transcription job by ID.
// Returns store.ErrNotFound if the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.TranscriptionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob persists the mutable state of a job.
// Returns store.ErrNotFound if the job does not exist.
func (s *Store) UpdateJob(ctx context.Context, job *domain.TranscriptionJob) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transcription_jobs SET
			status = ?,
			progress = ?,
			priority = ?,
			error = ?,
			chunk_id = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ?`,
		string(job.Status),
		job.Progress,
		job.Priority,
		job.Error,
		job.ChunkID,
		nullTimeString(job.StartedAt),
		nullTimeString(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.TranscriptionJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.TranscriptionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListJobsByBook returns all jobs for a book, ordered by start time.
func (s *Store) ListJobsByBook(ctx context.Context, bookID string) ([]*domain.TranscriptionJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs
		WHERE book_id = ? ORDER BY start_time ASC, created_at ASC`, bookID)
}

// ListJobsByStatus returns jobs with the given status, ordered by priority desc, created_at asc.
func (s *Store) ListJobsByStatus(ctx context.Context, status domain.TranscriptionStatus) ([]*domain.TranscriptionJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs
		WHERE status = ? ORDER BY priority DESC, created_at ASC`, string(status))
}

// ListPendingJobs returns pending jobs in dispatch order.
func (s *Store) ListPendingJobs(ctx context.Context) ([]*domain.TranscriptionJob, error) {
	return s.ListJobsByStatus(ctx, domain.TranscriptionStatusPending)
}

// ListActiveJobsInRange returns pending or running jobs for a book whose range
// intersects (start, end).
func (s *Store) ListActiveJobsInRange(ctx context.Context, bookID string, start, end float64) ([]*domain.TranscriptionJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs
		WHERE book_id = ? AND status IN (?, ?) AND start_time < ? AND end_time > ?
		ORDER BY start_time ASC`,
		bookID,
		string(domain.TranscriptionStatusPending),
		string(domain.TranscriptionStatusRunning),
		end, start)
}
