package segment

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/scriptorium/api/internal/model"
)

// Limits bounds the size of a single segment
type Limits struct {
	MaxChars   int
	MaxSeconds float64
}

// Resegmenter groups words into segments under a character and time budget
type Resegmenter struct {
	defaults Limits
}

// NewResegmenter creates a Resegmenter. Per-call limits that are zero or
// negative fall back to defaults.
func NewResegmenter(defaults Limits) *Resegmenter {
	return &Resegmenter{defaults: defaults}
}

// Defaults returns the configured fallback limits
func (r *Resegmenter) Defaults() Limits {
	return r.defaults
}

// Resegment greedily packs the words, in start order, into segments. A new
// segment starts when the speaker changes, when the accumulated text plus
// the next word would exceed maxChars, or when the next word would end more
// than maxSeconds after the segment started. A segment always holds at least
// one word, even if that word alone exceeds a budget.
//
// Word text is concatenated as is; transcriber tokens carry their own
// leading space. The closed segment's text is trimmed.
func (r *Resegmenter) Resegment(words []model.Word, maxChars int, maxSeconds float64) []model.Segment {
	if maxChars <= 0 {
		maxChars = r.defaults.MaxChars
	}
	if maxSeconds <= 0 {
		maxSeconds = r.defaults.MaxSeconds
	}

	segments := make([]model.Segment, 0)
	if len(words) == 0 {
		return segments
	}

	sorted := make([]model.Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	var open *model.Segment
	for i := 0; i < len(sorted); {
		word := sorted[i]

		switch {
		case open == nil:
			open = &model.Segment{
				Start:      word.Start,
				End:        word.End,
				Text:       word.Text,
				Speaker:    word.Speaker,
				Confidence: word.Confidence,
			}
		case fits(*open, word, maxChars, maxSeconds):
			open.Text += word.Text
			open.End = word.End
			open.Confidence = min(open.Confidence, word.Confidence)
		default:
			segments = append(segments, closeSegment(*open))
			open = nil
			continue
		}
		i++
	}

	return append(segments, closeSegment(*open))
}

func fits(seg model.Segment, word model.Word, maxChars int, maxSeconds float64) bool {
	return word.Speaker == seg.Speaker &&
		utf8.RuneCountInString(word.Text)+utf8.RuneCountInString(seg.Text) <= maxChars &&
		word.End-seg.Start <= maxSeconds
}

func closeSegment(seg model.Segment) model.Segment {
	seg.Text = strings.TrimSpace(seg.Text)
	return seg
}
