package pipeline

import (
	"sort"

	"github.com/ashdown/scribed/internal/transcribe"
)

// AttributedSegment is a transcript segment with a speaker assigned by
// interval overlap against the diarization turns.
type AttributedSegment struct {
	Speaker string
	Start   float64
	End     float64
	Text    string
}

// MergeSpeakers attributes each transcript segment to the diarization turn
// it overlaps the most. Attribution is purely temporal: diarization and
// transcription are independent passes over the same audio, so alignment by
// interval overlap is all that ties them together.
//
// Segments that overlap no turn at all (silence gaps, turn-boundary jitter)
// are attributed to the nearest turn by midpoint distance. The result is
// ordered by segment start time.
func MergeSpeakers(segments []transcribe.Segment, turns []transcribe.SpeakerTurn) []AttributedSegment {
	out := make([]AttributedSegment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, AttributedSegment{
			Speaker: attributeSpeaker(seg, turns),
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func attributeSpeaker(seg transcribe.Segment, turns []transcribe.SpeakerTurn) string {
	if len(turns) == 0 {
		return "UNKNOWN"
	}

	best := -1
	bestOverlap := 0.0
	for i, turn := range turns {
		ov := overlap(seg.Start, seg.End, turn.Start, turn.End)
		if ov > bestOverlap {
			bestOverlap = ov
			best = i
		}
	}
	if best >= 0 {
		return turns[best].Speaker
	}

	// No temporal overlap at all; fall back to the nearest turn.
	mid := (seg.Start + seg.End) / 2
	nearest := 0
	nearestDist := -1.0
	for i, turn := range turns {
		d := distance(mid, turn.Start, turn.End)
		if nearestDist < 0 || d < nearestDist {
			nearestDist = d
			nearest = i
		}
	}
	return turns[nearest].Speaker
}

// overlap returns the length of the intersection of [aStart,aEnd] and
// [bStart,bEnd], zero when disjoint.
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func distance(point, start, end float64) float64 {
	if point < start {
		return start - point
	}
	if point > end {
		return point - end
	}
	return 0
}
