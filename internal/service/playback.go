package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/captions"
	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/domain"
	domainerrors "github.com/listenupapp/listenup-captions/internal/errors"
	"github.com/listenupapp/listenup-captions/internal/id"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
)

// triggerTimeout bounds the job insert started by a controller trigger.
const triggerTimeout = 10 * time.Second

// OutcomePending is reported when the request context ended before the
// controller settled. The caption still arrives over SSE.
const OutcomePending = "pending"

// Queuer starts transcription around a playback position.
type Queuer interface {
	QueueFromPosition(ctx context.Context, bookID string, position float64) (*domain.TranscriptionJob, error)
}

// sessionClock is the playback clock of one session, advanced by position updates.
type sessionClock struct {
	mu       sync.Mutex
	position float64
}

func (c *sessionClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *sessionClock) set(position float64) {
	c.mu.Lock()
	c.position = position
	c.mu.Unlock()
}

// playbackSession owns the caption controller of one player.
type playbackSession struct {
	id         string
	client     auth.ClientInfo
	clock      *sessionClock
	controller *captions.Controller
	started    time.Time

	mu       sync.Mutex
	lastSeen time.Time
	forward  sync.WaitGroup
}

func (ps *playbackSession) touch(now time.Time) {
	ps.mu.Lock()
	ps.lastSeen = now
	ps.mu.Unlock()
}

func (ps *playbackSession) idleSince() time.Time {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.lastSeen
}

// SessionHandle is returned when a session starts.
type SessionHandle struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Caption   *Caption  `json:"caption"`
}

// Caption is the caption state a player renders.
type Caption struct {
	SessionID string                      `json:"session_id"`
	BookID    string                      `json:"book_id"`
	Position  float64                     `json:"position"`
	Outcome   string                      `json:"outcome"`
	Sentence  *domain.TranscribedSentence `json:"sentence"`
	Enabled   bool                        `json:"enabled"`
	Reloading bool                        `json:"reloading"`
	Error     string                      `json:"error,omitempty"`
}

// PlaybackService keeps one caption controller per playback session.
type PlaybackService struct {
	catalog *sqlite.Store
	source  captions.SentenceSource
	queuer  Queuer
	tokens  *auth.TokenService
	emitter store.EventEmitter
	logger  *slog.Logger
	config  config.CaptionsConfig
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*playbackSession
	closed   bool
}

// NewPlaybackService creates a playback service. queuer may be nil, in
// which case uncovered positions are not transcribed on demand.
func NewPlaybackService(
	catalog *sqlite.Store,
	source captions.SentenceSource,
	queuer Queuer,
	tokens *auth.TokenService,
	emitter store.EventEmitter,
	cfg config.CaptionsConfig,
	logger *slog.Logger,
) *PlaybackService {
	if emitter == nil {
		emitter = store.NewNoopEmitter()
	}
	return &PlaybackService{
		catalog:  catalog,
		source:   source,
		queuer:   queuer,
		tokens:   tokens,
		emitter:  emitter,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
		sessions: make(map[string]*playbackSession),
	}
}

func (s *PlaybackService) controllerConfig() captions.Config {
	return captions.Config{
		DebounceInterval: s.config.DebounceInterval,
		MaxAttempts:      s.config.MaxAttempts,
		Lookback:         s.config.Lookback,
		Lookahead:        s.config.Lookahead,
		MatchTolerance:   s.config.MatchTolerance,
		FetchTimeout:     s.config.FetchTimeout,
	}
}

// StartSession opens a session on a book at position and performs the
// initial caption load. The load is awaited until ctx ends.
func (s *PlaybackService) StartSession(ctx context.Context, bookID string, position float64, client auth.ClientInfo) (*SessionHandle, error) {
	if _, err := getBook(ctx, s.catalog, bookID); err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, domainerrors.Validation("position must not be negative")
	}

	sessionID, err := id.Generate(id.PrefixSession)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	token, expires, err := s.tokens.Issue(sessionID, client)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	now := s.now()
	clock := &sessionClock{position: position}
	logger := s.logger.With(slog.String("session_id", sessionID))
	ctrl := captions.New(s.controllerConfig(), s.source, clock, logger)
	ctrl.SetTrigger(s.trigger(sessionID))
	if !s.config.Enabled {
		ctrl.SetEnabled(false)
	}

	ps := &playbackSession{
		id:         sessionID,
		client:     client,
		clock:      clock,
		controller: ctrl,
		started:    now,
		lastSeen:   now,
	}

	transitions, _ := ctrl.Subscribe()
	ps.forward.Add(1)
	go s.forward(ps, transitions)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ctrl.Close()
		return nil, domainerrors.Unavailable("playback service is shutting down")
	}
	s.sessions[sessionID] = ps
	s.mu.Unlock()

	s.logger.Info("playback session started",
		slog.String("session_id", sessionID),
		slog.String("book_id", bookID),
		slog.Float64("position", position),
		slog.String("client", client.String()),
	)

	caption := s.await(ctx, ps, ctrl.BookChanged(bookID))
	return &SessionHandle{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: expires,
		Caption:   caption,
	}, nil
}

// UpdatePosition moves a session's playback clock and returns the caption
// once the controller settled, or OutcomePending if ctx ended first.
func (s *PlaybackService) UpdatePosition(ctx context.Context, token string, position float64) (*Caption, error) {
	ps, err := s.session(token)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, domainerrors.Validation("position must not be negative")
	}
	ps.clock.set(position)
	return s.await(ctx, ps, ps.controller.PositionChanged(position)), nil
}

// ChangeBook switches a session to another book at position.
func (s *PlaybackService) ChangeBook(ctx context.Context, token, bookID string, position float64) (*Caption, error) {
	ps, err := s.session(token)
	if err != nil {
		return nil, err
	}
	if _, err := getBook(ctx, s.catalog, bookID); err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, domainerrors.Validation("position must not be negative")
	}
	ps.clock.set(position)

	s.logger.Info("playback session changed book",
		slog.String("session_id", ps.id),
		slog.String("book_id", bookID))
	return s.await(ctx, ps, ps.controller.BookChanged(bookID)), nil
}

// SetEnabled turns captions on or off for a session.
func (s *PlaybackService) SetEnabled(ctx context.Context, token string, enabled bool) (*Caption, error) {
	ps, err := s.session(token)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, ps, ps.controller.SetEnabled(enabled)), nil
}

// Caption returns a session's current caption without evaluating anything.
func (s *PlaybackService) Caption(_ context.Context, token string) (*Caption, error) {
	ps, err := s.session(token)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ps, ""), nil
}

// State returns the controller snapshot of a session.
func (s *PlaybackService) State(_ context.Context, token string) (captions.State, error) {
	ps, err := s.session(token)
	if err != nil {
		return captions.State{}, err
	}
	return ps.controller.State(), nil
}

// SessionID resolves a token to its session ID.
func (s *PlaybackService) SessionID(token string) (string, error) {
	ps, err := s.session(token)
	if err != nil {
		return "", err
	}
	return ps.id, nil
}

// EndSession closes a session and its controller.
func (s *PlaybackService) EndSession(_ context.Context, token string) error {
	ps, err := s.session(token)
	if err != nil {
		return err
	}
	s.remove(ps.id)
	return nil
}

// TranscriptUpdated tells every session on bookID that new transcript data
// exists, so an exhausted controller may reload again.
func (s *PlaybackService) TranscriptUpdated(bookID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ps := range s.sessions {
		if ps.controller.State().BookID == bookID {
			ps.controller.TranscriptUpdated()
		}
	}
}

// SessionCount returns the number of open sessions.
func (s *PlaybackService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run closes sessions idle for longer than the token lifetime until ctx ends.
func (s *PlaybackService) Run(ctx context.Context) {
	maxIdle := s.tokens.Duration()
	ticker := time.NewTicker(max(maxIdle/4, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.reapIdle(maxIdle); n > 0 {
				s.logger.Info("closed idle playback sessions", slog.Int("count", n))
			}
		}
	}
}

func (s *PlaybackService) reapIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.RLock()
	var idle []string
	for sid, ps := range s.sessions {
		if ps.idleSince().Before(cutoff) {
			idle = append(idle, sid)
		}
	}
	s.mu.RUnlock()

	for _, sid := range idle {
		s.remove(sid)
	}
	return len(idle)
}

// Close ends every session.
func (s *PlaybackService) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*playbackSession)
	s.mu.Unlock()

	for _, ps := range sessions {
		ps.controller.Close()
		ps.forward.Wait()
	}
}

func (s *PlaybackService) remove(sessionID string) {
	s.mu.Lock()
	ps, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	ps.controller.Close()
	ps.forward.Wait()
	s.logger.Info("playback session ended",
		slog.String("session_id", sessionID),
		slog.Duration("duration", s.now().Sub(ps.started)))
}

// session resolves a token to an open session.
func (s *PlaybackService) session(token string) (*playbackSession, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, domainerrors.Unauthorized("invalid session token")
	}

	s.mu.RLock()
	ps, ok := s.sessions[claims.SessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domainerrors.NotFound("session not found")
	}
	ps.touch(s.now())
	return ps, nil
}

// await waits for a ticket and renders the caption it settled on.
func (s *PlaybackService) await(ctx context.Context, ps *playbackSession, t *captions.Ticket) *Caption {
	res, err := t.Wait(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("caption wait failed", slog.String("session_id", ps.id), slog.Any("error", err))
		}
		return s.snapshot(ps, OutcomePending)
	}
	c := s.snapshot(ps, res.Outcome.String())
	c.Sentence = res.Sentence
	return c
}

func (s *PlaybackService) snapshot(ps *playbackSession, outcome string) *Caption {
	st := ps.controller.State()
	return &Caption{
		SessionID: ps.id,
		BookID:    st.BookID,
		Position:  ps.clock.Position(),
		Outcome:   outcome,
		Sentence:  ps.controller.ActiveSentence(),
		Enabled:   st.Enabled,
		Reloading: st.Reloading,
		Error:     st.LastError,
	}
}

// forward publishes a session's caption transitions as SSE events.
func (s *PlaybackService) forward(ps *playbackSession, transitions <-chan captions.Transition) {
	defer ps.forward.Done()
	for tr := range transitions {
		s.emitter.Emit(sse.NewCaptionChangedEvent(ps.id, tr.BookID, tr.Sentence))
	}
}

// trigger queues transcription when a session finds no transcript.
func (s *PlaybackService) trigger(sessionID string) captions.TriggerFunc {
	return func(bookID string, position float64) {
		if s.queuer == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
			defer cancel()

			job, err := s.queuer.QueueFromPosition(ctx, bookID, position)
			switch {
			case err == nil:
				s.logger.Debug("transcription requested by playback",
					slog.String("session_id", sessionID),
					slog.String("job_id", job.ID))
			case domainerrors.Is(err, domainerrors.ErrUnavailable), domainerrors.Is(err, domainerrors.ErrConflict):
				s.logger.Debug("transcription not queued",
					slog.String("session_id", sessionID),
					slog.String("reason", err.Error()))
			default:
				s.logger.Warn("failed to queue transcription",
					slog.String("session_id", sessionID),
					slog.String("book_id", bookID),
					slog.Any("error", err))
			}
		}()
	}
}
