// Package segment rebuilds speaker-attributed display segments from the
// word and speaker-turn timelines returned by the speech collaborators.
package segment

import (
	"sort"

	"github.com/scriptorium/api/internal/model"
)

// ResolveOverlaps turns a set of possibly overlapping speaker turns into an
// ordered partition of the timeline. Where two different speakers overlap,
// the earlier turn is cut at the later turn's start and a synthetic turn
// labelled model.OverlapSpeaker covers the shared span. The input slice is
// left untouched.
func ResolveOverlaps(turns []model.SpeakerTurn) []model.SpeakerTurn {
	resolved := make([]model.SpeakerTurn, 0, len(turns))
	if len(turns) == 0 {
		return resolved
	}

	sorted := make([]model.SpeakerTurn, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	for _, cur := range sorted {
		if len(resolved) == 0 {
			resolved = append(resolved, cur)
			continue
		}

		last := len(resolved) - 1
		prev := resolved[last]

		if cur.Start >= prev.End || cur.Speaker == prev.Speaker {
			resolved = append(resolved, cur)
			continue
		}

		resolved[last].End = cur.Start

		overlap := model.SpeakerTurn{
			Start:   cur.Start,
			End:     min(cur.End, prev.End),
			Speaker: model.OverlapSpeaker,
		}
		resolved = append(resolved, overlap)

		if cur.End > prev.End {
			resolved = append(resolved, model.SpeakerTurn{
				Start:   overlap.End,
				End:     cur.End,
				Speaker: cur.Speaker,
			})
		} else {
			resolved = append(resolved, model.SpeakerTurn{
				Start:   overlap.End,
				End:     prev.End,
				Speaker: prev.Speaker,
			})
		}
	}

	return resolved
}
