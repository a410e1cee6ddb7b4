package segment

import (
	"sort"

	"github.com/scriptorium/api/internal/model"
)

// AssignSpeakers stamps every word with the speaker of the resolved turn it
// starts in. turns must already be time ordered, as ResolveOverlaps returns
// them. Words past the last turn keep the last seen speaker. With no turns
// every word gets an empty speaker.
//
// The returned slice is sorted by start and is a copy of words.
func AssignSpeakers(words []model.Word, turns []model.SpeakerTurn) []model.Word {
	assigned := make([]model.Word, len(words))
	copy(assigned, words)
	sort.SliceStable(assigned, func(i, j int) bool {
		return assigned[i].Start < assigned[j].Start
	})

	lastSpeaker := ""
	if len(turns) > 0 {
		lastSpeaker = turns[0].Speaker
	}

	t := 0
	for w := 0; w < len(assigned); {
		switch {
		case t >= len(turns):
			assigned[w].Speaker = lastSpeaker
			w++
		case assigned[w].Start < turns[t].End:
			assigned[w].Speaker = turns[t].Speaker
			w++
		default:
			// word starts after this turn; move the cursor and re-check the same word
			lastSpeaker = turns[t].Speaker
			t++
		}
	}

	return assigned
}
