package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/id"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/transcribe"
)

// fakeRunner produces one sentence every 10 seconds of the requested range.
type fakeRunner struct {
	mu   sync.Mutex
	reqs []transcribe.Request
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req transcribe.Request, onProgress func(int)) ([]domain.TranscribedSentence, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	err := f.err
	f.mu.Unlock()

	onProgress(50)
	if err != nil {
		return nil, err
	}
	onProgress(95)

	var out []domain.TranscribedSentence
	for ts := req.StartTime; ts < req.EndTime; ts += 10 {
		out = append(out, domain.TranscribedSentence{
			ID:        id.Sentence(),
			Text:      "Call me Ishmael.",
			StartTime: ts,
			EndTime:   ts + 8,
		})
	}
	return out, nil
}

func (f *fakeRunner) requests() []transcribe.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcribe.Request(nil), f.reqs...)
}

func transcriptionConfig() config.TranscriptionConfig {
	return config.TranscriptionConfig{
		Enabled:       true,
		Backend:       config.BackendWhisper,
		Language:      "en",
		MaxConcurrent: 1,
		SegmentLength: 5 * time.Minute,
	}
}

func newTranscriptionService(t *testing.T, env *testEnv, runner Runner, cfg config.TranscriptionConfig) *TranscriptionService {
	t.Helper()
	svc := NewTranscriptionService(env.catalog, env.transcripts, runner, env.events, cfg, logger.Discard())
	t.Cleanup(svc.Stop)
	return svc
}

func TestTranscriptionService_QueueFromPosition(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	svc := newTranscriptionService(t, env, &fakeRunner{}, transcriptionConfig())
	ctx := t.Context()

	job, err := svc.QueueFromPosition(ctx, "bk-1", 412.5)
	require.NoError(t, err)
	assert.Equal(t, 300.0, job.StartTime)
	assert.Equal(t, 600.0, job.EndTime)
	assert.Equal(t, domain.NoChapter, job.ChapterIndex)
	assert.Equal(t, domain.PriorityPlayback, job.Priority)
	assert.Equal(t, "en", job.Language)
	assert.Equal(t, domain.TranscriptionStatusPending, job.Status)
	assert.Len(t, env.events.ofType(sse.EventTranscriptionQueued), 1)

	// Same segment collapses onto the same job.
	again, err := svc.QueueFromPosition(ctx, "bk-1", 599)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Len(t, env.events.ofType(sse.EventTranscriptionQueued), 1)

	// The last segment is clamped to the book.
	last, err := svc.QueueFromPosition(ctx, "bk-1", 3500)
	require.NoError(t, err)
	assert.Equal(t, 3300.0, last.StartTime)
	assert.Equal(t, 3600.0, last.EndTime)
}

func TestTranscriptionService_QueueBumpsPriority(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	svc := newTranscriptionService(t, env, &fakeRunner{}, transcriptionConfig())
	ctx := t.Context()

	chapterJob, err := svc.QueueChapter(ctx, "bk-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, chapterJob.ChapterIndex)
	assert.Equal(t, domain.PriorityChapter, chapterJob.Priority)

	bumped, err := svc.QueueFromPosition(ctx, "bk-1", 100)
	require.NoError(t, err)
	assert.Equal(t, chapterJob.ID, bumped.ID)

	stored, err := svc.GetJob(ctx, chapterJob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityPlayback, stored.Priority)

	lower, err := svc.QueueRange(ctx, "bk-1", 0, 100, domain.PriorityBackground)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityPlayback, lower.Priority)
}

func TestTranscriptionService_QueueErrors(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	ctx := t.Context()

	disabledCfg := transcriptionConfig()
	disabledCfg.Enabled = false
	disabled := newTranscriptionService(t, env, &fakeRunner{}, disabledCfg)
	_, err := disabled.QueueFromPosition(ctx, "bk-1", 0)
	assert.ErrorIs(t, err, domainerrors.ErrUnavailable)

	noRunner := newTranscriptionService(t, env, nil, transcriptionConfig())
	assert.False(t, noRunner.IsEnabled())

	svc := newTranscriptionService(t, env, &fakeRunner{}, transcriptionConfig())

	_, err = svc.QueueRange(ctx, "bk-missing", 0, 10, domain.PriorityBackground)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.QueueRange(ctx, "bk-1", 50, 10, domain.PriorityBackground)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = svc.QueueRange(ctx, "bk-1", 4000, 4300, domain.PriorityBackground)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = svc.QueueChapter(ctx, "bk-1", 9)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	require.NoError(t, env.transcripts.InsertChunk(ctx, makeChunk("bk-1", 0, 300, 10)))
	_, err = svc.QueueRange(ctx, "bk-1", 0, 300, domain.PriorityBackground)
	assert.ErrorIs(t, err, domainerrors.ErrConflict)
}

func TestTranscriptionService_RunsJobs(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	runner := &fakeRunner{}
	svc := newTranscriptionService(t, env, runner, transcriptionConfig())
	ctx := t.Context()

	notified := make(chan string, 4)
	svc.OnChunkStored(func(bookID string) { notified <- bookID })
	svc.Start()

	job, err := svc.QueueFromPosition(ctx, "bk-1", 10)
	require.NoError(t, err)

	select {
	case bookID := <-notified:
		assert.Equal(t, "bk-1", bookID)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
	}

	done, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TranscriptionStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.NotEmpty(t, done.ChunkID)
	assert.NotNil(t, done.CompletedAt)

	reqs := runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/audio/bk-1.m4b", reqs[0].SourcePath)
	assert.Equal(t, 0.0, reqs[0].StartTime)
	assert.Equal(t, 300.0, reqs[0].EndTime)

	sentences, err := env.transcripts.LoadSentences(ctx, "bk-1", 0, 300)
	require.NoError(t, err)
	assert.Len(t, sentences, 30)

	assert.NotEmpty(t, env.events.ofType(sse.EventTranscriptionProgress))
	assert.Len(t, env.events.ofType(sse.EventTranscriptionCompleted), 1)
	assert.Len(t, env.events.ofType(sse.EventChunkStored), 1)

	status, err := svc.Status(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, status.Progress)
	require.Len(t, status.Chapters, 2)
	assert.False(t, status.Chapters[0].Transcribed)
	assert.False(t, status.Chapters[0].Transcribing)
}

func TestTranscriptionService_FailedJob(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	svc := newTranscriptionService(t, env, &fakeRunner{err: errors.New("whisper exited with status 1")}, transcriptionConfig())
	ctx := t.Context()
	svc.Start()

	job, err := svc.QueueRange(ctx, "bk-1", 0, 60, domain.PriorityBackground)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := svc.GetJob(ctx, job.ID)
		return err == nil && j.Status == domain.TranscriptionStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	failed, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, failed.Error, "whisper exited")
	assert.Len(t, env.events.ofType(sse.EventTranscriptionFailed), 1)

	// A failed job no longer blocks a new request for the range.
	retry, err := svc.QueueRange(ctx, "bk-1", 0, 60, domain.PriorityBackground)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retry.ID)
}

func TestTranscriptionService_RecoverStalledJobs(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	ctx := t.Context()

	stalled := &domain.TranscriptionJob{
		ID: "tj-stalled", BookID: "bk-1", ChapterIndex: domain.NoChapter,
		StartTime: 0, EndTime: 120, Status: domain.TranscriptionStatusPending,
		Priority: domain.PriorityBackground, CreatedAt: time.Now(),
	}
	require.NoError(t, env.catalog.CreateJob(ctx, stalled))
	stalled.MarkRunning()
	stalled.SetProgress(40)
	require.NoError(t, env.catalog.UpdateJob(ctx, stalled))

	cfg := transcriptionConfig()
	svc := newTranscriptionService(t, env, &fakeRunner{}, cfg)
	svc.recoverStalledJobs()

	job, err := svc.GetJob(ctx, "tj-stalled")
	require.NoError(t, err)
	assert.Equal(t, domain.TranscriptionStatusPending, job.Status)
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.StartedAt)
}

func TestTranscriptionService_ListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.addBook(t, "bk-1")
	svc := newTranscriptionService(t, env, &fakeRunner{}, transcriptionConfig())
	ctx := t.Context()

	jobs, err := svc.ListJobs(ctx, "bk-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = svc.QueueChapter(ctx, "bk-1", 1)
	require.NoError(t, err)
	_, err = svc.QueueChapter(ctx, "bk-1", 0)
	require.NoError(t, err)

	jobs, err = svc.ListJobs(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 0.0, jobs[0].StartTime)

	_, err = svc.ListJobs(ctx, "bk-none")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = svc.GetJob(ctx, "tj-none")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
