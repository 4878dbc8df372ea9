package pipeline

import (
	"strings"

	"github.com/tkhr/chronicle/internal/whisper"
)

// MergeSpeakers folds diarization turns into transcript segments. Each
// segment is attributed to the turn it overlaps most; on a zero or tied
// overlap the segment keeps the previously active speaker, which stops
// the label from flapping at turn boundaries. A `[Speaker] ` marker is
// emitted only when the speaker changes. With no turns the segment
// texts are joined as-is.
func MergeSpeakers(segs []whisper.Segment, turns []whisper.Turn) string {
	var b strings.Builder
	if len(turns) == 0 {
		for _, seg := range segs {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
		return b.String()
	}

	current := ""
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		best := current
		maxOverlap := 0.0
		for _, turn := range turns {
			overlap := min(seg.End, turn.End) - max(seg.Start, turn.Start)
			if overlap > maxOverlap {
				maxOverlap = overlap
				best = turn.Speaker
			}
		}
		if best != current && best != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("[" + best + "] ")
			current = best
		} else if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
