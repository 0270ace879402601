package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/logger"
	"github.com/listenupapp/listenup-captions/internal/sse"
)

const testTokenKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type queueCall struct {
	bookID   string
	position float64
}

type fakeQueuer struct {
	mu    sync.Mutex
	calls []queueCall
}

func (f *fakeQueuer) QueueFromPosition(_ context.Context, bookID string, position float64) (*domain.TranscriptionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, queueCall{bookID, position})
	return &domain.TranscriptionJob{ID: "tj-fake", BookID: bookID}, nil
}

func (f *fakeQueuer) recorded() []queueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queueCall(nil), f.calls...)
}

func captionsConfig() config.CaptionsConfig {
	return config.CaptionsConfig{
		Enabled:          true,
		DebounceInterval: 0,
		MaxAttempts:      2,
		Lookback:         60 * time.Second,
		Lookahead:        300 * time.Second,
		MatchTolerance:   2 * time.Second,
	}
}

type playbackHarness struct {
	env    *testEnv
	svc    *PlaybackService
	queuer *fakeQueuer
}

func newPlaybackHarness(t *testing.T, cfg config.CaptionsConfig) *playbackHarness {
	t.Helper()
	env := newTestEnv(t)
	tokens, err := auth.NewTokenService(testTokenKey, time.Hour)
	require.NoError(t, err)

	queuer := &fakeQueuer{}
	svc := NewPlaybackService(env.catalog, env.transcripts, queuer, tokens, env.events, cfg, logger.Discard())
	t.Cleanup(svc.Close)
	return &playbackHarness{env: env, svc: svc, queuer: queuer}
}

func TestPlaybackService_SessionFollowsPosition(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")
	require.NoError(t, h.env.transcripts.InsertChunk(ctx, makeChunk("bk-1", 0, 600, 10)))

	handle, err := h.svc.StartSession(ctx, "bk-1", 25, auth.ClientInfo{Name: "test"})
	require.NoError(t, err)
	assert.Contains(t, handle.SessionID, "ses-")
	assert.NotEmpty(t, handle.Token)
	assert.Equal(t, "reloaded", handle.Caption.Outcome)
	require.NotNil(t, handle.Caption.Sentence)
	assert.Equal(t, 20.0, handle.Caption.Sentence.StartTime)

	caption, err := h.svc.UpdatePosition(ctx, handle.Token, 45)
	require.NoError(t, err)
	assert.Equal(t, "matched", caption.Outcome)
	require.NotNil(t, caption.Sentence)
	assert.Equal(t, 40.0, caption.Sentence.StartTime)
	assert.Equal(t, 45.0, caption.Position)

	// Between sentences, the next one starts within tolerance.
	caption, err = h.svc.UpdatePosition(ctx, handle.Token, 49.5)
	require.NoError(t, err)
	assert.Equal(t, "matched", caption.Outcome)
	require.NotNil(t, caption.Sentence)
	assert.Equal(t, 50.0, caption.Sentence.StartTime)

	require.Eventually(t, func() bool {
		return len(h.env.events.ofType(sse.EventCaptionChanged)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	for _, e := range h.env.events.ofType(sse.EventCaptionChanged) {
		assert.Equal(t, handle.SessionID, e.SessionID)
		assert.Equal(t, "bk-1", e.BookID)
	}
	assert.Empty(t, h.queuer.recorded())
}

func TestPlaybackService_UncoveredPositionTriggersTranscription(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")
	require.NoError(t, h.env.transcripts.InsertChunk(ctx, makeChunk("bk-1", 0, 600, 10)))

	handle, err := h.svc.StartSession(ctx, "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)

	caption, err := h.svc.UpdatePosition(ctx, handle.Token, 1200)
	require.NoError(t, err)
	assert.Equal(t, "empty", caption.Outcome)
	assert.Nil(t, caption.Sentence)

	require.Eventually(t, func() bool {
		calls := h.queuer.recorded()
		return len(calls) == 1 && calls[0] == queueCall{"bk-1", 1200}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPlaybackService_BookWithoutTranscript(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")

	handle, err := h.svc.StartSession(ctx, "bk-1", 90, auth.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, "empty", handle.Caption.Outcome)

	require.Eventually(t, func() bool {
		calls := h.queuer.recorded()
		return len(calls) == 1 && calls[0] == queueCall{"bk-1", 90}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPlaybackService_TranscriptUpdatedClearsExhaustion(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")

	handle, err := h.svc.StartSession(ctx, "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)

	for _, want := range []string{"empty", "empty", "exhausted"} {
		caption, err := h.svc.UpdatePosition(ctx, handle.Token, 100)
		require.NoError(t, err)
		assert.Equal(t, want, caption.Outcome)
	}

	require.NoError(t, h.env.transcripts.InsertChunk(ctx, makeChunk("bk-1", 0, 300, 10)))
	h.svc.TranscriptUpdated("bk-1")

	state, err := h.svc.State(ctx, handle.Token)
	require.NoError(t, err)
	assert.Zero(t, state.Attempts)

	caption, err := h.svc.UpdatePosition(ctx, handle.Token, 100)
	require.NoError(t, err)
	assert.Equal(t, "reloaded", caption.Outcome)
	require.NotNil(t, caption.Sentence)
	assert.Equal(t, 100.0, caption.Sentence.StartTime)
}

func TestPlaybackService_ChangeBook(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")
	h.env.addBook(t, "bk-2")
	require.NoError(t, h.env.transcripts.InsertChunk(ctx, makeChunk("bk-2", 0, 300, 10)))

	handle, err := h.svc.StartSession(ctx, "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)

	caption, err := h.svc.ChangeBook(ctx, handle.Token, "bk-2", 30)
	require.NoError(t, err)
	assert.Equal(t, "bk-2", caption.BookID)
	assert.Equal(t, "reloaded", caption.Outcome)
	require.NotNil(t, caption.Sentence)
	assert.Equal(t, 30.0, caption.Sentence.StartTime)

	_, err = h.svc.ChangeBook(ctx, handle.Token, "bk-missing", 0)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestPlaybackService_SetEnabled(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")
	require.NoError(t, h.env.transcripts.InsertChunk(ctx, makeChunk("bk-1", 0, 300, 10)))

	handle, err := h.svc.StartSession(ctx, "bk-1", 10, auth.ClientInfo{})
	require.NoError(t, err)
	require.NotNil(t, handle.Caption.Sentence)

	caption, err := h.svc.SetEnabled(ctx, handle.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "disabled", caption.Outcome)
	assert.Nil(t, caption.Sentence)
	assert.False(t, caption.Enabled)

	caption, err = h.svc.UpdatePosition(ctx, handle.Token, 20)
	require.NoError(t, err)
	assert.Equal(t, "disabled", caption.Outcome)

	caption, err = h.svc.SetEnabled(ctx, handle.Token, true)
	require.NoError(t, err)
	assert.Equal(t, "reloaded", caption.Outcome)
	require.NotNil(t, caption.Sentence)
	assert.Equal(t, 20.0, caption.Sentence.StartTime)
}

func TestPlaybackService_CaptionsDisabledByConfig(t *testing.T) {
	cfg := captionsConfig()
	cfg.Enabled = false
	h := newPlaybackHarness(t, cfg)
	h.env.addBook(t, "bk-1")

	handle, err := h.svc.StartSession(t.Context(), "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, "disabled", handle.Caption.Outcome)
	assert.Equal(t, "bk-1", handle.Caption.BookID)
	assert.False(t, handle.Caption.Enabled)
}

func TestPlaybackService_SessionLifecycle(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")

	_, err := h.svc.StartSession(ctx, "bk-missing", 0, auth.ClientInfo{})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = h.svc.StartSession(ctx, "bk-1", -1, auth.ClientInfo{})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	handle, err := h.svc.StartSession(ctx, "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.svc.SessionCount())

	sid, err := h.svc.SessionID(handle.Token)
	require.NoError(t, err)
	assert.Equal(t, handle.SessionID, sid)

	_, err = h.svc.UpdatePosition(ctx, "v4.local.bogus", 10)
	assert.ErrorIs(t, err, domainerrors.ErrUnauthorized)

	_, err = h.svc.UpdatePosition(ctx, handle.Token, -5)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	caption, err := h.svc.Caption(ctx, handle.Token)
	require.NoError(t, err)
	assert.Equal(t, handle.SessionID, caption.SessionID)

	require.NoError(t, h.svc.EndSession(ctx, handle.Token))
	assert.Zero(t, h.svc.SessionCount())

	_, err = h.svc.Caption(ctx, handle.Token)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestPlaybackService_ReapIdle(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	ctx := t.Context()
	h.env.addBook(t, "bk-1")

	_, err := h.svc.StartSession(ctx, "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)
	active, err := h.svc.StartSession(ctx, "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)

	assert.Zero(t, h.svc.reapIdle(time.Hour))

	base := time.Now()
	h.svc.now = func() time.Time { return base.Add(50 * time.Minute) }
	_, err = h.svc.Caption(ctx, active.Token)
	require.NoError(t, err)

	h.svc.now = func() time.Time { return base.Add(90 * time.Minute) }
	assert.Equal(t, 1, h.svc.reapIdle(time.Hour))
	assert.Equal(t, 1, h.svc.SessionCount())

	_, err = h.svc.Caption(ctx, active.Token)
	assert.NoError(t, err)
}

func TestPlaybackService_PendingWhenContextEnds(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	h.env.addBook(t, "bk-1")

	handle, err := h.svc.StartSession(t.Context(), "bk-1", 0, auth.ClientInfo{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	caption, err := h.svc.UpdatePosition(ctx, handle.Token, 10)
	require.NoError(t, err)
	// Either the ticket was already settled or the wait gave up.
	assert.Contains(t, []string{OutcomePending, "empty", "busy"}, caption.Outcome)
}

func TestPlaybackService_ClosedRejectsSessions(t *testing.T) {
	h := newPlaybackHarness(t, captionsConfig())
	h.env.addBook(t, "bk-1")
	h.svc.Close()

	_, err := h.svc.StartSession(t.Context(), "bk-1", 0, auth.ClientInfo{})
	assert.ErrorIs(t, err, domainerrors.ErrUnavailable)
}
