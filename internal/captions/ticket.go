package captions

import (
	"context"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// Outcome describes how a controller call settled.
type Outcome int

const (
	// OutcomeDisabled means captions are off and nothing was evaluated.
	OutcomeDisabled Outcome = iota
	// OutcomeNoBook means no book is attached.
	OutcomeNoBook
	// OutcomeDebounced means a reload happened too recently; the active sentence is unchanged.
	OutcomeDebounced
	// OutcomeMatched means the window answered the position.
	OutcomeMatched
	// OutcomeGap means the position is inside the loaded range but no sentence covers it.
	OutcomeGap
	// OutcomeBusy means a reload was needed but one is already in flight.
	OutcomeBusy
	// OutcomeExhausted means a reload was needed but the attempt limit is reached.
	OutcomeExhausted
	// OutcomeReloaded means a reload produced sentences and the follow-up lookup ran.
	OutcomeReloaded
	// OutcomeUncovered means a reload produced sentences, but none near the position.
	OutcomeUncovered
	// OutcomeEmpty means a reload produced no sentences (or failed).
	OutcomeEmpty
	// OutcomeSuperseded means the result was discarded because the book changed.
	OutcomeSuperseded
	// OutcomeUnchanged means the call had nothing to do.
	OutcomeUnchanged
)

var outcomeNames = [...]string{
	OutcomeDisabled:   "disabled",
	OutcomeNoBook:     "no_book",
	OutcomeDebounced:  "debounced",
	OutcomeMatched:    "matched",
	OutcomeGap:        "gap",
	OutcomeBusy:       "busy",
	OutcomeExhausted:  "exhausted",
	OutcomeReloaded:   "reloaded",
	OutcomeUncovered:  "uncovered",
	OutcomeEmpty:      "empty",
	OutcomeSuperseded: "superseded",
	OutcomeUnchanged:  "unchanged",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Result is what a settled Ticket reports.
type Result struct {
	Outcome Outcome
	// Sentence is the active sentence once the call settled, or nil.
	Sentence *domain.TranscribedSentence
}

// Ticket tracks one controller call through any reload it started.
type Ticket struct {
	done   chan struct{}
	result Result
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func settled(r Result) *Ticket {
	t := newTicket()
	t.resolve(r)
	return t
}

func (t *Ticket) resolve(r Result) {
	t.result = r
	close(t.done)
}

// Done is closed once the ticket has settled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket settles or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
