// Package pipeline turns a stored media file plus per-job options into a
// persisted transcription artifact. Every step is a potential failure point
// that aborts the job; the triggering error becomes the job's failure
// diagnostic verbatim.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/media"
	"github.com/ashdown/scribed/internal/metrics"
	"github.com/ashdown/scribed/internal/queue"
	"github.com/ashdown/scribed/internal/storage"
	"github.com/ashdown/scribed/internal/transcribe"
)

// ErrNoDiarizer is returned for jobs requesting diarization when no
// diarizer endpoint is configured.
var ErrNoDiarizer = errors.New("diarization requested but no diarizer is configured")

// Pipeline processes jobs using capabilities constructed once at worker
// startup. The transcriber and diarizer are shared read-only across jobs;
// the pipeline itself holds no per-job state, so re-running a job after
// redelivery simply overwrites its artifact.
type Pipeline struct {
	uploads     *storage.Store
	artifacts   *storage.Store
	transcriber transcribe.Transcriber
	diarizer    transcribe.Diarizer
	log         zerolog.Logger
}

// New creates a pipeline. diarizer may be nil when no diarization endpoint
// is configured; jobs requesting it then fail with ErrNoDiarizer.
func New(uploads, artifacts *storage.Store, t transcribe.Transcriber, d transcribe.Diarizer, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		uploads:     uploads,
		artifacts:   artifacts,
		transcriber: t,
		diarizer:    d,
		log:         log,
	}
}

// Run executes one job end to end and persists the artifact. Safe to invoke
// more than once for the same reference ID: the artifact write is an atomic
// overwrite, never an append.
func (p *Pipeline) Run(ctx context.Context, job *queue.Job) error {
	log := p.log.With().Str("reference_id", job.ReferenceID).Logger()
	start := time.Now()

	audioPath := p.uploads.Path(job.ReferenceID)
	if audioPath == "" {
		return fmt.Errorf("stored media file not found for %s", job.ReferenceID)
	}

	if job.MediaType != string(media.TypeAudio) && job.MediaType != string(media.TypeVideo) {
		return fmt.Errorf("%w: %s", media.ErrUnsupported, job.MediaType)
	}

	// 1. Video: extract a normalized audio track into a scratch dir that is
	// removed on every exit path.
	if job.MediaType == string(media.TypeVideo) {
		scratch, err := os.MkdirTemp("", "scribed-extract-*")
		if err != nil {
			return fmt.Errorf("create scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		extractStart := time.Now()
		extracted, err := media.ExtractAudio(ctx, audioPath, scratch)
		if err != nil {
			return err
		}
		metrics.PipelineStageDuration.WithLabelValues("extract").Observe(time.Since(extractStart).Seconds())
		audioPath = extracted
	}

	// 2. Transcription. Word-level granularity only when requested.
	transcribeStart := time.Now()
	res, err := p.transcriber.Transcribe(ctx, audioPath, transcribe.Options{
		WordTimestamps: job.IncludeWordTimestamps,
	})
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	metrics.PipelineStageDuration.WithLabelValues("transcribe").Observe(time.Since(transcribeStart).Seconds())

	// 3. Optional diarization pass over the same audio, merged by interval
	// overlap.
	var output string
	switch {
	case job.DiarizeSpeakers:
		if p.diarizer == nil {
			return ErrNoDiarizer
		}
		diarizeStart := time.Now()
		turns, err := p.diarizer.Diarize(ctx, audioPath)
		if err != nil {
			return fmt.Errorf("diarization failed: %w", err)
		}
		metrics.PipelineStageDuration.WithLabelValues("diarize").Observe(time.Since(diarizeStart).Seconds())

		merged := MergeSpeakers(res.Segments, turns)
		output, err = FormatDiarized(merged, job.IncludeWordTimestamps)
		if err != nil {
			return err
		}

	case job.IncludeWordTimestamps:
		output, err = FormatWords(res.Words)
		if err != nil {
			return err
		}

	default:
		output = FormatPlain(res)
	}

	// 4. Persist. This write is what lets the worker report success.
	if err := p.artifacts.Overwrite(ctx, media.ArtifactKey(job.ReferenceID), []byte(output)); err != nil {
		return fmt.Errorf("persist artifact: %w", err)
	}

	log.Info().
		Str("media_type", job.MediaType).
		Bool("diarized", job.DiarizeSpeakers).
		Bool("word_timestamps", job.IncludeWordTimestamps).
		Int("segments", len(res.Segments)).
		Dur("duration_ms", time.Since(start)).
		Msg("job processed")
	return nil
}
