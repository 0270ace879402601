package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/id"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
	"github.com/listenupapp/listenup-captions/internal/transcribe"
)

// Runner transcribes one range of an audio file.
type Runner interface {
	Run(ctx context.Context, req transcribe.Request, onProgress func(int)) ([]domain.TranscribedSentence, error)
}

// ChunkListener is told when a book gained transcript data.
type ChunkListener func(bookID string)

// TranscriptionService queues transcription jobs and runs them on a worker pool.
type TranscriptionService struct {
	catalog     *sqlite.Store
	transcripts *TranscriptService
	runner      Runner
	emitter     store.EventEmitter
	logger      *slog.Logger
	config      config.TranscriptionConfig

	listenerMu sync.RWMutex
	listeners  []ChunkListener

	// queueMu makes the overlap check and job insert atomic.
	queueMu sync.Mutex
	// claimMu serializes job claims between workers.
	claimMu sync.Mutex

	// Worker management
	ctx       context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	jobNotify chan struct{} // Signal that new jobs are available
}

// NewTranscriptionService creates a transcription service. runner may be nil
// when transcription is disabled.
func NewTranscriptionService(
	catalog *sqlite.Store,
	transcripts *TranscriptService,
	runner Runner,
	emitter store.EventEmitter,
	cfg config.TranscriptionConfig,
	logger *slog.Logger,
) *TranscriptionService {
	if emitter == nil {
		emitter = store.NewNoopEmitter()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.SegmentLength <= 0 {
		cfg.SegmentLength = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TranscriptionService{
		catalog:     catalog,
		transcripts: transcripts,
		runner:      runner,
		emitter:     emitter,
		logger:      logger,
		config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
		jobNotify:   make(chan struct{}, 1),
	}
}

// IsEnabled reports whether jobs can be queued.
func (s *TranscriptionService) IsEnabled() bool {
	return s.config.Enabled && s.runner != nil
}

// OnChunkStored registers a listener called after each completed job.
func (s *TranscriptionService) OnChunkStored(fn ChunkListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start begins the transcription worker pool.
func (s *TranscriptionService) Start() {
	if !s.IsEnabled() {
		s.logger.Info("transcription disabled, not starting workers")
		return
	}

	s.logger.Info("starting transcription workers",
		slog.Int("workers", s.config.MaxConcurrent),
		slog.String("backend", s.config.Backend),
	)

	s.recoverStalledJobs()

	for i := range s.config.MaxConcurrent {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (s *TranscriptionService) Stop() {
	s.logger.Info("stopping transcription service")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("transcription service stopped")
}

// NotifyNewJob signals workers that a new job is available.
func (s *TranscriptionService) NotifyNewJob() {
	select {
	case s.jobNotify <- struct{}{}:
	default:
		// Already notified
	}
}

// QueueRange queues transcription of [start, end] of a book. If a pending or
// running job already overlaps the range, that job is returned instead, its
// priority raised when the new request outranks it.
func (s *TranscriptionService) QueueRange(ctx context.Context, bookID string, start, end float64, priority int) (*domain.TranscriptionJob, error) {
	return s.queue(ctx, bookID, domain.NoChapter, start, end, priority)
}

// QueueChapter queues transcription of one chapter.
func (s *TranscriptionService) QueueChapter(ctx context.Context, bookID string, chapterIndex int) (*domain.TranscriptionJob, error) {
	book, err := getBook(ctx, s.catalog, bookID)
	if err != nil {
		return nil, err
	}
	ch, ok := book.Chapter(chapterIndex)
	if !ok {
		return nil, domainerrors.NotFoundf("chapter %d not found", chapterIndex)
	}
	return s.queue(ctx, bookID, chapterIndex, ch.StartTime, ch.EndTime, domain.PriorityChapter)
}

// QueueFromPosition queues the segment containing position at playback
// priority. Segments are aligned to multiples of the configured length so
// nearby requests collapse onto the same job.
func (s *TranscriptionService) QueueFromPosition(ctx context.Context, bookID string, position float64) (*domain.TranscriptionJob, error) {
	seg := s.config.SegmentLength.Seconds()
	start := math.Floor(max(0, position)/seg) * seg
	return s.queue(ctx, bookID, domain.NoChapter, start, start+seg, domain.PriorityPlayback)
}

func (s *TranscriptionService) queue(ctx context.Context, bookID string, chapterIndex int, start, end float64, priority int) (*domain.TranscriptionJob, error) {
	if !s.IsEnabled() {
		return nil, domainerrors.Unavailable("transcription is disabled")
	}

	book, err := getBook(ctx, s.catalog, bookID)
	if err != nil {
		return nil, err
	}
	if book.Duration > 0 {
		end = min(end, book.Duration)
	}
	if start < 0 || end <= start {
		return nil, domainerrors.Validationf("invalid range [%g, %g]", start, end)
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	active, err := s.catalog.ListActiveJobsInRange(ctx, bookID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check active jobs: %w", err)
	}
	if len(active) > 0 {
		existing := active[0]
		if priority > existing.Priority {
			existing.Priority = priority
			if err := s.catalog.UpdateJob(ctx, existing); err != nil {
				return nil, fmt.Errorf("update job priority: %w", err)
			}
			s.NotifyNewJob()
		}
		return existing, nil
	}

	covered, err := s.transcripts.store.IsRangeCovered(ctx, bookID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check coverage: %w", err)
	}
	if covered {
		return nil, domainerrors.Conflict("range is already transcribed")
	}

	jobID, err := id.Generate(id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	job := &domain.TranscriptionJob{
		ID:           jobID,
		BookID:       bookID,
		ChapterIndex: chapterIndex,
		StartTime:    start,
		EndTime:      end,
		Language:     s.config.Language,
		Status:       domain.TranscriptionStatusPending,
		Priority:     priority,
		CreatedAt:    time.Now(),
	}
	if err := s.catalog.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("queued transcription",
		slog.String("job_id", job.ID),
		slog.String("book_id", bookID),
		slog.Float64("start", start),
		slog.Float64("end", end),
		slog.Int("priority", priority),
	)
	s.emitter.Emit(sse.NewTranscriptionQueuedEvent(job))
	s.NotifyNewJob()

	return job, nil
}

// GetJob returns one job.
func (s *TranscriptionService) GetJob(ctx context.Context, jobID string) (*domain.TranscriptionJob, error) {
	job, err := s.catalog.GetJob(ctx, jobID)
	if domainerrors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFoundf("job %s not found", jobID)
	}
	return job, err
}

// ListJobs returns a book's jobs ordered by start time.
func (s *TranscriptionService) ListJobs(ctx context.Context, bookID string) ([]*domain.TranscriptionJob, error) {
	if _, err := getBook(ctx, s.catalog, bookID); err != nil {
		return nil, err
	}
	jobs, err := s.catalog.ListJobsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*domain.TranscriptionJob{}
	}
	return jobs, nil
}

// ChapterStatus is the transcription state of one chapter.
type ChapterStatus struct {
	Index        int     `json:"index"`
	Title        string  `json:"title"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Transcribed  bool    `json:"transcribed"`
	Transcribing bool    `json:"transcribing"`
}

// BookStatus summarizes a book's transcription.
type BookStatus struct {
	BookID   string          `json:"book_id"`
	Duration float64         `json:"duration"`
	Progress float64         `json:"progress"` // seconds transcribed contiguously from zero
	Enabled  bool            `json:"enabled"`
	Chapters []ChapterStatus `json:"chapters"`
}

// Status reports how much of a book is transcribed, per chapter.
func (s *TranscriptionService) Status(ctx context.Context, bookID string) (*BookStatus, error) {
	book, err := getBook(ctx, s.catalog, bookID)
	if err != nil {
		return nil, err
	}

	progress, err := s.transcripts.GetTranscriptionProgress(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	status := &BookStatus{
		BookID:   bookID,
		Duration: book.Duration,
		Progress: progress,
		Enabled:  s.IsEnabled(),
		Chapters: make([]ChapterStatus, 0, len(book.Chapters)),
	}
	for _, ch := range book.Chapters {
		transcribed, err := s.transcripts.IsChapterTranscribed(ctx, bookID, ch.Index)
		if err != nil {
			return nil, err
		}
		transcribing, err := s.transcripts.IsChapterTranscribing(ctx, bookID, ch.Index)
		if err != nil {
			return nil, err
		}
		status.Chapters = append(status.Chapters, ChapterStatus{
			Index:        ch.Index,
			Title:        ch.Title,
			StartTime:    ch.StartTime,
			EndTime:      ch.EndTime,
			Transcribed:  transcribed,
			Transcribing: transcribing,
		})
	}
	return status, nil
}

// worker processes transcription jobs.
func (s *TranscriptionService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("transcription worker started", slog.Int("worker_id", id))

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("transcription worker stopping", slog.Int("worker_id", id))
			return
		case <-s.jobNotify:
			// Drain the queue; another worker may pick up the next signal.
			for s.processNextJob(id) {
			}
		case <-ticker.C:
			// Periodic check for jobs (in case notification was missed)
			for s.processNextJob(id) {
			}
		}
	}
}

// claimNextJob marks the highest-priority pending job as running.
func (s *TranscriptionService) claimNextJob(ctx context.Context) (*domain.TranscriptionJob, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	jobs, err := s.catalog.ListPendingJobs(ctx)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}

	job := jobs[0]
	job.MarkRunning()
	if err := s.catalog.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// processNextJob runs one pending job. It returns false when there was nothing to run.
func (s *TranscriptionService) processNextJob(workerID int) bool {
	ctx := s.ctx
	if ctx.Err() != nil {
		return false
	}

	job, err := s.claimNextJob(ctx)
	if err != nil {
		s.logger.Error("failed to claim transcription job", slog.Any("error", err))
		return false
	}
	if job == nil {
		return false
	}

	s.logger.Info("starting transcription",
		slog.Int("worker_id", workerID),
		slog.String("job_id", job.ID),
		slog.String("book_id", job.BookID),
		slog.Float64("start", job.StartTime),
		slog.Float64("end", job.EndTime),
	)

	chunk, err := s.execute(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; the job is picked up again by recoverStalledJobs.
			return false
		}
		s.handleTranscriptionError(ctx, job, err)
		return true
	}

	job.MarkCompleted(chunk.ID)
	if err := s.catalog.UpdateJob(ctx, job); err != nil {
		s.logger.Error("failed to update completed job", slog.Any("error", err))
	}

	s.logger.Info("transcription completed",
		slog.String("job_id", job.ID),
		slog.String("chunk_id", chunk.ID),
		slog.Int("sentences", len(chunk.Sentences)),
	)
	s.emitter.Emit(sse.NewTranscriptionCompletedEvent(job))
	s.notifyListeners(job.BookID)
	return true
}

// execute transcribes the job's range and stores the resulting chunk.
func (s *TranscriptionService) execute(ctx context.Context, job *domain.TranscriptionJob) (*domain.TranscriptionChunk, error) {
	book, err := s.catalog.GetBook(ctx, job.BookID)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}

	req := transcribe.Request{
		SourcePath: book.Path,
		StartTime:  job.StartTime,
		EndTime:    job.EndTime,
		Language:   job.Language,
	}
	sentences, err := s.runner.Run(ctx, req, func(p int) { s.reportProgress(ctx, job, p) })
	if err != nil {
		return nil, err
	}

	chunk := &domain.TranscriptionChunk{
		BookID:        job.BookID,
		StartTime:     job.StartTime,
		EndTime:       job.EndTime,
		Language:      job.Language,
		Sentences:     sentences,
		TranscribedAt: time.Now(),
		IsComplete:    true,
	}
	if err := s.transcripts.InsertChunk(ctx, chunk); err != nil {
		return nil, fmt.Errorf("store chunk: %w", err)
	}
	return chunk, nil
}

// reportProgress persists and broadcasts a progress change.
func (s *TranscriptionService) reportProgress(ctx context.Context, job *domain.TranscriptionJob, percent int) {
	before := job.Progress
	job.SetProgress(percent)
	if job.Progress == before {
		return
	}
	if err := s.catalog.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("failed to update job progress", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	s.emitter.Emit(sse.NewTranscriptionProgressEvent(job))
}

func (s *TranscriptionService) handleTranscriptionError(ctx context.Context, job *domain.TranscriptionJob, err error) {
	s.logger.Error("transcription failed",
		slog.String("job_id", job.ID),
		slog.Any("error", err),
	)

	job.MarkFailed(err.Error())
	if updateErr := s.catalog.UpdateJob(ctx, job); updateErr != nil {
		s.logger.Error("failed to update failed job", slog.Any("error", updateErr))
	}

	s.emitter.Emit(sse.NewTranscriptionFailedEvent(job))
}

func (s *TranscriptionService) notifyListeners(bookID string) {
	s.listenerMu.RLock()
	listeners := append([]ChunkListener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(bookID)
	}
}

// recoverStalledJobs resets any jobs that were running when the server stopped.
func (s *TranscriptionService) recoverStalledJobs() {
	ctx := context.Background()

	runningJobs, err := s.catalog.ListJobsByStatus(ctx, domain.TranscriptionStatusRunning)
	if err != nil {
		s.logger.Error("failed to list running jobs for recovery", slog.Any("error", err))
		return
	}

	for _, job := range runningJobs {
		s.logger.Info("recovering stalled transcription job", slog.String("job_id", job.ID))

		job.Status = domain.TranscriptionStatusPending
		job.Progress = 0
		job.StartedAt = nil

		if err := s.catalog.UpdateJob(ctx, job); err != nil {
			s.logger.Error("failed to reset stalled job", slog.Any("error", err))
		}
	}

	if len(runningJobs) > 0 {
		s.logger.Info("recovered stalled jobs", slog.Int("count", len(runningJobs)))
		s.NotifyNewJob()
	}
}
