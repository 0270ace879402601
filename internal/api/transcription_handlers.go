package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/service"
)

func (s *Server) registerTranscriptionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getTranscriptionStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/transcription",
		Summary:     "Transcription status",
		Description: "Returns contiguous progress and per-chapter transcription state",
		Tags:        []string{"Transcription"},
	}, s.handleTranscriptionStatus)

	huma.Register(s.api, huma.Operation{
		OperationID:   "queueTranscriptionRange",
		Method:        http.MethodPost,
		Path:          "/api/v1/books/{id}/transcription",
		Summary:       "Queue range",
		Description:   "Queues transcription of a time range. An overlapping pending or running job is returned instead of a new one",
		Tags:          []string{"Transcription"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleQueueRange)

	huma.Register(s.api, huma.Operation{
		OperationID:   "queueTranscriptionChapter",
		Method:        http.MethodPost,
		Path:          "/api/v1/books/{id}/chapters/{index}/transcription",
		Summary:       "Queue chapter",
		Description:   "Queues transcription of one chapter",
		Tags:          []string{"Transcription"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleQueueChapter)

	huma.Register(s.api, huma.Operation{
		OperationID: "listTranscriptionJobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/transcription/jobs",
		Summary:     "List jobs",
		Description: "Returns a book's transcription jobs ordered by start time",
		Tags:        []string{"Transcription"},
	}, s.handleListJobs)

	huma.Register(s.api, huma.Operation{
		OperationID: "getTranscriptionJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcription/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns one transcription job",
		Tags:        []string{"Transcription"},
	}, s.handleGetJob)
}

// Priority names accepted by the queue endpoint.
var priorities = map[string]int{
	"background": domain.PriorityBackground,
	"chapter":    domain.PriorityChapter,
	"playback":   domain.PriorityPlayback,
}

// === DTOs ===

// QueueRangeRequest is the request body for queueing a range.
type QueueRangeRequest struct {
	Start    float64 `json:"start" minimum:"0" doc:"Range start in seconds"`
	End      float64 `json:"end" minimum:"0" doc:"Range end in seconds, clamped to the book's duration"`
	Priority string  `json:"priority,omitempty" enum:"background,chapter,playback" doc:"Scheduling priority (default: background)"`
}

// QueueRangeInput wraps the queue range request for Huma.
type QueueRangeInput struct {
	ID   string `path:"id" doc:"Book ID"`
	Body QueueRangeRequest
}

// QueueChapterInput identifies a chapter.
type QueueChapterInput struct {
	ID    string `path:"id" doc:"Book ID"`
	Index int    `path:"index" minimum:"0" doc:"Zero-based chapter index"`
}

// JobIDInput identifies a job.
type JobIDInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// JobResponse contains transcription job data in API responses.
type JobResponse struct {
	ID           string     `json:"id" doc:"Job ID"`
	BookID       string     `json:"book_id" doc:"Book ID"`
	ChapterIndex int        `json:"chapter_index" doc:"Chapter index, -1 for an ad-hoc range"`
	StartTime    float64    `json:"start_time" doc:"Range start in seconds"`
	EndTime      float64    `json:"end_time" doc:"Range end in seconds"`
	Language     string     `json:"language" doc:"Spoken language"`
	Status       string     `json:"status" doc:"pending, running, completed or failed"`
	Progress     int        `json:"progress" doc:"Percent complete"`
	Priority     int        `json:"priority" doc:"Scheduling priority"`
	Error        string     `json:"error,omitempty" doc:"Failure reason"`
	ChunkID      string     `json:"chunk_id,omitempty" doc:"Stored chunk on completion"`
	CreatedAt    time.Time  `json:"created_at" doc:"Queue time"`
	StartedAt    *time.Time `json:"started_at,omitempty" doc:"Start time"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" doc:"Completion time"`
}

// JobOutput wraps a job response for Huma.
type JobOutput struct {
	Body JobResponse
}

// ListJobsResponse contains a book's jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs" doc:"Jobs ordered by start time"`
}

// ListJobsOutput wraps the list jobs response for Huma.
type ListJobsOutput struct {
	Body ListJobsResponse
}

// TranscriptionStatusOutput wraps a book's transcription status for Huma.
type TranscriptionStatusOutput struct {
	Body *service.BookStatus
}

func toJobResponse(j *domain.TranscriptionJob) JobResponse {
	return JobResponse{
		ID:           j.ID,
		BookID:       j.BookID,
		ChapterIndex: j.ChapterIndex,
		StartTime:    j.StartTime,
		EndTime:      j.EndTime,
		Language:     j.Language,
		Status:       string(j.Status),
		Progress:     j.Progress,
		Priority:     j.Priority,
		Error:        j.Error,
		ChunkID:      j.ChunkID,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// === Handlers ===

func (s *Server) handleTranscriptionStatus(ctx context.Context, input *BookIDInput) (*TranscriptionStatusOutput, error) {
	status, err := s.services.Transcription.Status(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &TranscriptionStatusOutput{Body: status}, nil
}

func (s *Server) handleQueueRange(ctx context.Context, input *QueueRangeInput) (*JobOutput, error) {
	priority := domain.PriorityBackground
	if p, ok := priorities[input.Body.Priority]; ok {
		priority = p
	}

	job, err := s.services.Transcription.QueueRange(ctx, input.ID, input.Body.Start, input.Body.End, priority)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: toJobResponse(job)}, nil
}

func (s *Server) handleQueueChapter(ctx context.Context, input *QueueChapterInput) (*JobOutput, error) {
	job, err := s.services.Transcription.QueueChapter(ctx, input.ID, input.Index)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: toJobResponse(job)}, nil
}

func (s *Server) handleListJobs(ctx context.Context, input *BookIDInput) (*ListJobsOutput, error) {
	jobs, err := s.services.Transcription.ListJobs(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		resp[i] = toJobResponse(j)
	}
	return &ListJobsOutput{Body: ListJobsResponse{Jobs: resp}}, nil
}

func (s *Server) handleGetJob(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := s.services.Transcription.GetJob(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: toJobResponse(job)}, nil
}
