// Package transcribe holds the speech-recognition and diarization
// capabilities used by the media pipeline. Both are expensive to set up
// server-side, so clients are constructed once per worker process and
// shared read-only across jobs.
package transcribe

import "context"

// Options are per-job transcription options.
type Options struct {
	// WordTimestamps requests word-level timing from the engine. This
	// changes the granularity of the returned structure, not just its
	// formatting.
	WordTimestamps bool
}

// Word is a single timestamped word.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is the engine's natural unit of output: a time span covering one
// or more words.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a full transcription result.
type Result struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []Segment
	Words    []Word // only populated when Options.WordTimestamps was set
}

// SpeakerTurn is one diarization interval: who spoke, and when.
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Transcriber converts an audio file into a transcription result.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
}

// Diarizer partitions an audio file into time-stamped speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]SpeakerTurn, error)
}
