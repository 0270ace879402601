// Package captions keeps the active caption in step with a playback position.
//
// A Controller owns a Window of sentences for one book and answers position
// changes from it. When the window cannot answer, it fetches a new one from a
// SentenceSource, bounded by a debounce interval, an attempt limit, and a
// single in-flight fetch.
package captions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// PlaybackClock reports the current playback position in seconds.
type PlaybackClock interface {
	Position() float64
}

// SentenceSource is the read side of the transcript store.
type SentenceSource interface {
	// LoadSentences returns sentences overlapping [start, end], sorted by start.
	LoadSentences(ctx context.Context, bookID string, start, end float64) ([]domain.TranscribedSentence, error)
	// GetTranscriptionProgress returns the furthest time transcribed contiguously from zero.
	GetTranscriptionProgress(ctx context.Context, bookID string) (float64, error)
}

// TriggerFunc asks the surrounding system to transcribe around position.
type TriggerFunc func(bookID string, position float64)

// progressMargin extends the fallback fetch past the transcribed prefix of a
// book whose window came back empty.
const progressMargin = 60 * time.Second

// Config tunes the controller.
type Config struct {
	DebounceInterval time.Duration
	MaxAttempts      int
	Lookback         time.Duration
	Lookahead        time.Duration
	MatchTolerance   time.Duration
	// FetchTimeout bounds a single store fetch; zero means no bound.
	FetchTimeout time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 3 * time.Second,
		MaxAttempts:      2,
		Lookback:         60 * time.Second,
		Lookahead:        300 * time.Second,
		MatchTolerance:   2 * time.Second,
	}
}

// Transition is published whenever the active sentence changes.
type Transition struct {
	BookID   string
	Sentence *domain.TranscribedSentence
}

// State is a point-in-time snapshot of a controller.
type State struct {
	BookID      string
	Enabled     bool
	Reloading   bool
	Attempts    int
	LastReload  time.Time
	WindowStart float64
	WindowEnd   float64
	WindowSize  int
	LastError   string
}

// Controller maps playback positions to the active sentence of one book.
// All state transitions happen under mu; the store fetch runs in its own goroutine.
type Controller struct {
	cfg     Config
	source  SentenceSource
	clock   PlaybackClock
	logger  *slog.Logger
	trigger TriggerFunc
	now     func() time.Time

	mu       sync.Mutex
	closed   bool
	enabled  bool
	bookID   string
	position float64
	window   Window
	active   *domain.TranscribedSentence
	lastErr  string

	reloading  bool
	lastReload time.Time
	attempts   int
	cancel     context.CancelFunc
	generation uint64

	subs    map[int]chan Transition
	nextSub int
}

// New creates an enabled controller with no book attached.
func New(cfg Config, source SentenceSource, clock PlaybackClock, logger *slog.Logger) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		cfg:     cfg,
		source:  source,
		clock:   clock,
		logger:  logger,
		now:     time.Now,
		enabled: true,
		subs:    make(map[int]chan Transition),
	}
}

// SetTrigger sets the callback used to request transcription.
func (c *Controller) SetTrigger(fn TriggerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trigger = fn
}

// ActiveSentence returns the current sentence, or nil.
func (c *Controller) ActiveSentence() *domain.TranscribedSentence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySentence(c.active)
}

// LastError returns the message of the most recent failed fetch, if any.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, end := c.window.Bounds()
	return State{
		BookID:      c.bookID,
		Enabled:     c.enabled,
		Reloading:   c.reloading,
		Attempts:    c.attempts,
		LastReload:  c.lastReload,
		WindowStart: start,
		WindowEnd:   end,
		WindowSize:  c.window.Len(),
		LastError:   c.lastErr,
	}
}

// Subscribe returns a channel of active-sentence transitions and a function
// that ends the subscription. Slow subscribers miss transitions rather than
// blocking the controller.
func (c *Controller) Subscribe() (<-chan Transition, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Transition, 16)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	key := c.nextSub
	c.nextSub++
	c.subs[key] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[key]; ok {
			delete(c.subs, key)
			close(sub)
		}
	}
}

// SetEnabled turns captions on or off. Turning them on with a book attached
// performs the initial load; turning them off cancels any fetch and clears the caption.
func (c *Controller) SetEnabled(enabled bool) *Ticket {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return settled(Result{Outcome: OutcomeDisabled})
	}
	if c.enabled == enabled {
		active := copySentence(c.active)
		c.mu.Unlock()
		return settled(Result{Outcome: OutcomeUnchanged, Sentence: active})
	}
	c.enabled = enabled

	if !enabled {
		c.abortLocked()
		c.window = Window{}
		c.setActiveLocked(nil)
		c.mu.Unlock()
		return settled(Result{Outcome: OutcomeDisabled})
	}

	bookID := c.bookID
	c.mu.Unlock()
	return c.BookChanged(bookID)
}

// PositionChanged evaluates position against the loaded window, starting a
// reload when the window cannot answer. The returned ticket settles once the
// evaluation and any reload it started are complete.
func (c *Controller) PositionChanged(position float64) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.enabled {
		return settled(Result{Outcome: OutcomeDisabled})
	}
	c.position = position

	if c.debouncedLocked() {
		return settled(Result{Outcome: OutcomeDebounced, Sentence: copySentence(c.active)})
	}

	if c.window.IsEmpty() {
		c.setActiveLocked(nil)
		if c.bookID == "" {
			return settled(Result{Outcome: OutcomeNoBook})
		}
		return c.reloadLocked(position)
	}

	if s, ok := c.window.Lookup(position, c.cfg.MatchTolerance.Seconds()); ok {
		c.setActiveLocked(&s)
		return settled(Result{Outcome: OutcomeMatched, Sentence: copySentence(c.active)})
	}

	c.setActiveLocked(nil)
	if !c.window.Covers(position) {
		return c.reloadLocked(position)
	}
	return settled(Result{Outcome: OutcomeGap})
}

// BookChanged attaches a book and loads its window around the clock's
// current position. It bypasses the debounce and attempt limit and cancels
// any fetch still running for the previous book.
func (c *Controller) BookChanged(bookID string) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return settled(Result{Outcome: OutcomeDisabled})
	}

	c.abortLocked()
	c.bookID = bookID
	c.window = Window{}
	c.attempts = 0
	c.lastErr = ""
	c.lastReload = time.Time{}
	c.setActiveLocked(nil)

	if bookID == "" {
		return settled(Result{Outcome: OutcomeNoBook})
	}
	if !c.enabled {
		return settled(Result{Outcome: OutcomeDisabled})
	}

	ctx, gen := c.beginFetchLocked()
	t := newTicket()
	go c.loadBook(ctx, gen, bookID, t)
	return t
}

// TranscriptUpdated tells the controller new transcript data exists for its
// book. It clears the attempt count so the next uncovered position may reload.
func (c *Controller) TranscriptUpdated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
}

// Close cancels any fetch and ends all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.abortLocked()
	for key, ch := range c.subs {
		delete(c.subs, key)
		close(ch)
	}
}

func (c *Controller) debouncedLocked() bool {
	return !c.lastReload.IsZero() && c.now().Sub(c.lastReload) < c.cfg.DebounceInterval
}

// reloadLocked is the guarded reload entry point.
func (c *Controller) reloadLocked(position float64) *Ticket {
	if c.reloading {
		return settled(Result{Outcome: OutcomeBusy})
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.logger.Debug("caption reload attempts exhausted",
			slog.String("book_id", c.bookID),
			slog.Int("attempts", c.attempts))
		return settled(Result{Outcome: OutcomeExhausted})
	}

	c.attempts++
	ctx, gen := c.beginFetchLocked()

	start := max(0, position-c.cfg.Lookback.Seconds())
	end := position + c.cfg.Lookahead.Seconds()

	c.logger.Debug("caption window reload",
		slog.String("book_id", c.bookID),
		slog.Float64("position", position),
		slog.Float64("start", start),
		slog.Float64("end", end),
		slog.Int("attempt", c.attempts))

	t := newTicket()
	go c.reload(ctx, gen, c.bookID, start, end, t)
	return t
}

// beginFetchLocked marks a fetch as in flight and returns its context and generation.
func (c *Controller) beginFetchLocked() (context.Context, uint64) {
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.generation++
	c.reloading = true
	c.lastReload = c.now()
	return ctx, c.generation
}

// abortLocked cancels any in-flight fetch and orphans its result.
func (c *Controller) abortLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.reloading = false
}

// finishFetchLocked reports whether gen is still current and, if so, ends the fetch.
func (c *Controller) finishFetchLocked(gen uint64) bool {
	if gen != c.generation {
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.reloading = false
	c.lastReload = c.now()
	return true
}

func (c *Controller) reload(ctx context.Context, gen uint64, bookID string, start, end float64, t *Ticket) {
	sentences, err := c.load(ctx, bookID, start, end)

	c.mu.Lock()
	if !c.finishFetchLocked(gen) {
		c.mu.Unlock()
		t.resolve(Result{Outcome: OutcomeSuperseded})
		return
	}

	c.recordErrorLocked(err)
	c.window = NewWindow(sentences)

	// An empty result never re-runs the lookup; that would re-enter the reload path.
	if c.window.IsEmpty() {
		fire, position := c.trigger, c.position
		c.mu.Unlock()
		c.fire(fire, bookID, position)
		t.resolve(Result{Outcome: OutcomeEmpty})
		return
	}

	c.attempts = 0
	result, fire, position := c.settleLocked()
	c.mu.Unlock()

	c.fire(fire, bookID, position)
	t.resolve(result)
}

func (c *Controller) loadBook(ctx context.Context, gen uint64, bookID string, t *Ticket) {
	position := c.clockPosition()
	sentences, err := c.loadAround(ctx, bookID, position)

	// The player may report its real position only after attach.
	if now := c.clockPosition(); now != position && !NewWindow(sentences).Covers(now) && ctx.Err() == nil {
		position = now
		sentences, err = c.loadAround(ctx, bookID, position)
	}

	if len(sentences) == 0 && ctx.Err() == nil {
		progress, perr := c.progress(ctx, bookID)
		switch {
		case perr != nil:
			err = errors.Join(err, perr)
		case progress > 0:
			sentences, err = c.load(ctx, bookID, 0, progress+progressMargin.Seconds())
		}
	}

	now := c.clockPosition()

	c.mu.Lock()
	if !c.finishFetchLocked(gen) {
		c.mu.Unlock()
		t.resolve(Result{Outcome: OutcomeSuperseded})
		return
	}

	c.recordErrorLocked(err)
	c.window = NewWindow(sentences)
	if c.clock != nil {
		c.position = now
	}

	if c.window.IsEmpty() {
		fire, pos := c.trigger, c.position
		c.mu.Unlock()
		c.fire(fire, bookID, pos)
		t.resolve(Result{Outcome: OutcomeEmpty})
		return
	}

	c.logger.Debug("caption window loaded for book",
		slog.String("book_id", bookID),
		slog.Int("sentences", c.window.Len()))

	result, fire, pos := c.settleLocked()
	c.mu.Unlock()

	c.fire(fire, bookID, pos)
	t.resolve(result)
}

// settleLocked runs the single lookup that follows a successful fetch. It
// never starts another reload: a position outside the fresh window asks for
// transcription instead.
func (c *Controller) settleLocked() (Result, TriggerFunc, float64) {
	if s, ok := c.window.Lookup(c.position, c.cfg.MatchTolerance.Seconds()); ok {
		c.setActiveLocked(&s)
		return Result{Outcome: OutcomeReloaded, Sentence: copySentence(c.active)}, nil, 0
	}

	c.setActiveLocked(nil)
	if c.window.Covers(c.position) {
		return Result{Outcome: OutcomeGap}, nil, 0
	}
	return Result{Outcome: OutcomeUncovered}, c.trigger, c.position
}

func (c *Controller) loadAround(ctx context.Context, bookID string, position float64) ([]domain.TranscribedSentence, error) {
	return c.load(ctx, bookID, max(0, position-c.cfg.Lookback.Seconds()), position+c.cfg.Lookahead.Seconds())
}

// load fetches sentences from the source within the fetch timeout.
func (c *Controller) load(ctx context.Context, bookID string, start, end float64) ([]domain.TranscribedSentence, error) {
	return bounded(ctx, c.cfg.FetchTimeout, func(ctx context.Context) ([]domain.TranscribedSentence, error) {
		return c.source.LoadSentences(ctx, bookID, start, end)
	})
}

// progress queries transcription progress within the fetch timeout.
func (c *Controller) progress(ctx context.Context, bookID string) (float64, error) {
	return bounded(ctx, c.cfg.FetchTimeout, func(ctx context.Context) (float64, error) {
		return c.source.GetTranscriptionProgress(ctx, bookID)
	})
}

// bounded runs fn, abandoning the call when ctx ends or timeout passes.
// A zero timeout leaves the call bounded by ctx only.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Controller) recordErrorLocked(err error) {
	if err == nil {
		c.lastErr = ""
		return
	}
	c.lastErr = err.Error()
	c.logger.Warn("caption fetch failed",
		slog.String("book_id", c.bookID),
		slog.String("error", err.Error()))
}

func (c *Controller) clockPosition() float64 {
	if c.clock != nil {
		return c.clock.Position()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Controller) fire(fn TriggerFunc, bookID string, position float64) {
	if fn == nil {
		return
	}
	c.logger.Debug("requesting transcription",
		slog.String("book_id", bookID),
		slog.Float64("position", position))
	fn(bookID, position)
}

// setActiveLocked replaces the active sentence, publishing only real changes.
func (c *Controller) setActiveLocked(s *domain.TranscribedSentence) {
	if sameSentence(c.active, s) {
		return
	}
	c.active = copySentence(s)

	tr := Transition{BookID: c.bookID, Sentence: copySentence(s)}
	for _, ch := range c.subs {
		select {
		case ch <- tr:
		default:
			c.logger.Warn("dropped caption transition for slow subscriber",
				slog.String("book_id", c.bookID))
		}
	}
}

func sameSentence(a, b *domain.TranscribedSentence) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func copySentence(s *domain.TranscribedSentence) *domain.TranscribedSentence {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
