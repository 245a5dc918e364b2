package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashdown/scribed/internal/transcribe"
)

// seconds marshals as a JSON number with exactly two decimal places.
type seconds float64

func (s seconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(s), 'f', 2, 64)), nil
}

// diarizedEntry is one element of the diarized output array. Start/End are
// segment-level times, included only when word timestamps were also
// requested on the job.
type diarizedEntry struct {
	Person     string   `json:"person"`
	Transcript string   `json:"transcript"`
	Start      *seconds `json:"start,omitempty"`
	End        *seconds `json:"end,omitempty"`
}

// wordEntry is one element of the word-timestamp output array.
type wordEntry struct {
	Word  string  `json:"word"`
	Start seconds `json:"start"`
	End   seconds `json:"end"`
}

// FormatPlain renders the transcript as concatenated text.
func FormatPlain(res *transcribe.Result) string {
	if res.Text != "" {
		return res.Text
	}
	// Some engines return only segments; join them.
	parts := make([]string, 0, len(res.Segments))
	for _, seg := range res.Segments {
		parts = append(parts, strings.TrimSpace(seg.Text))
	}
	return strings.Join(parts, " ")
}

// FormatWords renders an ordered JSON array of {word, start, end} records
// with times formatted to two decimal places.
func FormatWords(words []transcribe.Word) (string, error) {
	entries := make([]wordEntry, 0, len(words))
	for _, w := range words {
		entries = append(entries, wordEntry{
			Word:  strings.TrimSpace(w.Word),
			Start: seconds(w.Start),
			End:   seconds(w.End),
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal word timestamps: %w", err)
	}
	return string(data), nil
}

// FormatDiarized renders an ordered JSON array of {person, transcript}
// records. When withTimestamps is set, each record also carries the
// segment-level start/end. Note the granularity: the word-timestamps option
// on a diarized job gates segment-level timing, not per-word timing.
func FormatDiarized(merged []AttributedSegment, withTimestamps bool) (string, error) {
	entries := make([]diarizedEntry, 0, len(merged))
	for _, seg := range merged {
		e := diarizedEntry{
			Person:     seg.Speaker,
			Transcript: strings.TrimSpace(seg.Text),
		}
		if withTimestamps {
			start := seconds(seg.Start)
			end := seconds(seg.End)
			e.Start = &start
			e.End = &end
		}
		entries = append(entries, e)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal diarized transcript: %w", err)
	}
	return string(data), nil
}
