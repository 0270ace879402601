package domain

import "time"

// TranscriptionStatus represents the state of a transcription job.
type TranscriptionStatus string

const (
	TranscriptionStatusPending   TranscriptionStatus = "pending"
	TranscriptionStatusRunning   TranscriptionStatus = "running"
	TranscriptionStatusCompleted TranscriptionStatus = "completed"
	TranscriptionStatusFailed    TranscriptionStatus = "failed"
)

// NoChapter marks a job queued for an ad-hoc time range.
const NoChapter = -1

// Job priorities. Higher runs first.
const (
	PriorityBackground = 1
	PriorityChapter    = 5
	PriorityPlayback   = 10
)

// TranscriptionJob is a queued speech-to-text run over one range of a book.
type TranscriptionJob struct {
	ID           string  `json:"id"`
	BookID       string  `json:"book_id"`
	ChapterIndex int     `json:"chapter_index"` // NoChapter for ad-hoc ranges
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Language     string  `json:"language"`

	Status   TranscriptionStatus `json:"status"`
	Progress int                 `json:"progress"` // 0-100
	Priority int                 `json:"priority"`
	Error    string              `json:"error,omitempty"`

	// ChunkID is set once the run's chunk has been stored.
	ChunkID string `json:"chunk_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsActive reports whether the job is pending or running.
func (j *TranscriptionJob) IsActive() bool {
	return j.Status == TranscriptionStatusPending || j.Status == TranscriptionStatusRunning
}

// Overlaps reports whether the job's range intersects [start, end].
func (j *TranscriptionJob) Overlaps(start, end float64) bool {
	return j.StartTime < end && start < j.EndTime
}

// MarkRunning transitions the job to running state.
func (j *TranscriptionJob) MarkRunning() {
	j.Status = TranscriptionStatusRunning
	now := time.Now()
	j.StartedAt = &now
	j.Progress = 0
	j.Error = ""
}

// MarkCompleted transitions the job to completed state.
func (j *TranscriptionJob) MarkCompleted(chunkID string) {
	j.Status = TranscriptionStatusCompleted
	j.ChunkID = chunkID
	j.Progress = 100
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed state with an error message.
func (j *TranscriptionJob) MarkFailed(err string) {
	j.Status = TranscriptionStatusFailed
	j.Error = err
	now := time.Now()
	j.CompletedAt = &now
}

// SetProgress updates the job's progress percentage.
func (j *TranscriptionJob) SetProgress(percent int) {
	j.Progress = max(0, min(100, percent))
}

// BumpPriority raises the job to playback priority.
func (j *TranscriptionJob) BumpPriority() {
	if j.Priority < PriorityPlayback {
		j.Priority = PriorityPlayback
	}
}
