package transcribe

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/listenup-captions/internal/domain"
	"github.com/listenupapp/listenup-captions/internal/id"
)

const (
	terminators = ".!?…"
	closers     = "\"'”’)]»"
)

// Words ending in a period that do not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "st": true, "jr": true,
	"sr": true, "prof": true, "vs": true, "etc": true, "mt": true, "capt": true,
}

type piece struct {
	text       string
	start, end float64
	terminal   bool
}

// SplitSentences places segments on the book timeline at offset and splits
// them into sentences. A sentence may span segments; its time is shared out
// in proportion to text length. Results are clamped to [rangeStart, rangeEnd],
// sorted by start and non-overlapping.
func SplitSentences(segments []Segment, offset, rangeStart, rangeEnd float64) []domain.TranscribedSentence {
	var pieces []piece
	for _, seg := range segments {
		pieces = append(pieces, segmentPieces(seg, offset)...)
	}

	var (
		out   []domain.TranscribedSentence
		buf   []string
		start float64
	)
	flush := func(end float64) {
		if len(buf) == 0 {
			return
		}
		out = append(out, domain.TranscribedSentence{
			Text:      strings.Join(buf, " "),
			StartTime: start,
			EndTime:   end,
		})
		buf = buf[:0]
	}
	for _, p := range pieces {
		if len(buf) == 0 {
			start = p.start
		}
		buf = append(buf, p.text)
		if p.terminal {
			flush(p.end)
		}
	}
	if n := len(pieces); n > 0 {
		flush(pieces[n-1].end)
	}

	return clampSentences(out, rangeStart, rangeEnd)
}

// segmentPieces splits one segment's text at sentence boundaries and shares
// the segment's time out by character count.
func segmentPieces(seg Segment, offset float64) []piece {
	text := norm.NFC.String(strings.Join(strings.Fields(seg.Text), " "))
	if text == "" {
		return nil
	}

	start := seg.Start + offset
	end := max(seg.End+offset, start)

	parts := splitText(text)
	total := 0
	for _, p := range parts {
		total += utf8.RuneCountInString(p)
	}

	pieces := make([]piece, 0, len(parts))
	cursor := start
	for i, p := range parts {
		next := cursor + (end-start)*float64(utf8.RuneCountInString(p))/float64(total)
		if i == len(parts)-1 {
			next = end
		}
		pieces = append(pieces, piece{text: p, start: cursor, end: next, terminal: endsSentence(p)})
		cursor = next
	}
	return pieces
}

// splitText cuts text after sentence terminators (plus any closing quotes)
// that are followed by a space or the end of the text.
func splitText(text string) []string {
	runes := []rune(text)
	var parts []string
	from := 0

	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(terminators, runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (strings.ContainsRune(terminators, runes[j]) || strings.ContainsRune(closers, runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[from:i]) {
			continue
		}
		if part := strings.TrimSpace(string(runes[from:j])); part != "" {
			parts = append(parts, part)
		}
		from = j
		i = j - 1
	}

	if rest := strings.TrimSpace(string(runes[from:])); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// isAbbreviation reports whether the word ending text is a known abbreviation
// or a single-letter initial.
func isAbbreviation(text []rune) bool {
	k := len(text)
	for k > 0 && !unicode.IsSpace(text[k-1]) {
		k--
	}
	word := text[k:]
	if len(word) == 1 && unicode.IsUpper(word[0]) {
		return true
	}
	return abbreviations[strings.ToLower(string(word))]
}

func endsSentence(part string) bool {
	trimmed := strings.TrimRight(part, closers)
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(terminators, r)
}

// clampSentences assigns IDs and forces sentences into the range without overlap.
func clampSentences(sentences []domain.TranscribedSentence, rangeStart, rangeEnd float64) []domain.TranscribedSentence {
	slices.SortStableFunc(sentences, func(a, b domain.TranscribedSentence) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})

	out := sentences[:0]
	prevEnd := rangeStart
	for _, s := range sentences {
		s.StartTime = max(s.StartTime, prevEnd)
		s.EndTime = min(s.EndTime, rangeEnd)
		if s.StartTime > rangeEnd {
			break
		}
		if s.EndTime < s.StartTime {
			s.EndTime = s.StartTime
		}
		s.ID = id.Sentence()
		out = append(out, s)
		prevEnd = s.EndTime
	}
	return out
}
