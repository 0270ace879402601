package captions

import (
	"cmp"
	"math"
	"slices"

	"github.com/listenupapp/listenup-captions/internal/domain"
)

// Window is the in-memory set of sentences loaded for one time range of a book.
// A Window is immutable; reloads replace it wholesale.
type Window struct {
	sentences []domain.TranscribedSentence
	start     float64
	end       float64
}

// NewWindow builds a window from sentences, ordering them by start time.
// The loaded range spans the earliest start to the latest end.
func NewWindow(sentences []domain.TranscribedSentence) Window {
	if len(sentences) == 0 {
		return Window{}
	}

	sorted := slices.Clone(sentences)
	slices.SortStableFunc(sorted, func(a, b domain.TranscribedSentence) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})

	w := Window{sentences: sorted, start: sorted[0].StartTime, end: sorted[0].EndTime}
	for _, s := range sorted[1:] {
		w.end = max(w.end, s.EndTime)
	}
	return w
}

// IsEmpty reports whether the window holds no sentences.
func (w Window) IsEmpty() bool { return len(w.sentences) == 0 }

// Len returns the number of sentences in the window.
func (w Window) Len() int { return len(w.sentences) }

// Bounds returns the loaded range. Both are zero for an empty window.
func (w Window) Bounds() (start, end float64) { return w.start, w.end }

// Covers reports whether position lies within the loaded range.
func (w Window) Covers(position float64) bool {
	return !w.IsEmpty() && w.start <= position && position <= w.end
}

// Sentences returns a copy of the window's sentences.
func (w Window) Sentences() []domain.TranscribedSentence {
	return slices.Clone(w.sentences)
}

// Lookup finds the sentence active at position.
//
// The first sentence in start order containing position wins. Without a
// containing sentence, the sentence whose start is nearest to position is
// used if that distance is strictly below tolerance.
func (w Window) Lookup(position, tolerance float64) (domain.TranscribedSentence, bool) {
	for _, s := range w.sentences {
		if s.StartTime > position {
			break
		}
		if s.Contains(position) {
			return s, true
		}
	}

	best := -1
	bestDist := math.Inf(1)
	for i, s := range w.sentences {
		if d := math.Abs(s.StartTime - position); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist < tolerance {
		return w.sentences[best], true
	}
	return domain.TranscribedSentence{}, false
}
