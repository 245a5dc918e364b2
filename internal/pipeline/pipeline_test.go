package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/media"
	"github.com/ashdown/scribed/internal/queue"
	"github.com/ashdown/scribed/internal/storage"
	"github.com/ashdown/scribed/internal/transcribe"
)

type fakeTranscriber struct {
	result   *transcribe.Result
	err      error
	lastOpts transcribe.Options
	calls    int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	f.calls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDiarizer struct {
	turns []transcribe.SpeakerTurn
	err   error
	calls int
}

func (f *fakeDiarizer) Diarize(ctx context.Context, audioPath string) ([]transcribe.SpeakerTurn, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.turns, nil
}

type pipelineFixture struct {
	uploads   *storage.Store
	artifacts *storage.Store
	tr        *fakeTranscriber
	di        *fakeDiarizer
	p         *Pipeline
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	uploads, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	artifacts, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranscriber{result: &transcribe.Result{
		Text: "mock transcription output",
		Segments: []transcribe.Segment{
			{Start: 0, End: 2, Text: "mock transcription"},
			{Start: 2.5, End: 4, Text: "output"},
		},
		Words: []transcribe.Word{
			{Word: "mock", Start: 0, End: 0.5},
			{Word: "transcription", Start: 0.6, End: 2},
			{Word: "output", Start: 2.5, End: 4},
		},
	}}
	di := &fakeDiarizer{turns: []transcribe.SpeakerTurn{
		{Speaker: "SPEAKER_00", Start: 0, End: 2.2},
		{Speaker: "SPEAKER_01", Start: 2.3, End: 4.5},
	}}
	return &pipelineFixture{
		uploads:   uploads,
		artifacts: artifacts,
		tr:        tr,
		di:        di,
		p:         New(uploads, artifacts, tr, di, zerolog.Nop()),
	}
}

func (fx *pipelineFixture) storeUpload(t *testing.T, id string) {
	t.Helper()
	if err := fx.uploads.Create(context.Background(), id, strings.NewReader("fake-audio")); err != nil {
		t.Fatal(err)
	}
}

func (fx *pipelineFixture) readArtifact(t *testing.T, id string) string {
	t.Helper()
	rc, err := fx.artifacts.Open(media.ArtifactKey(id))
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data)
}

func audioJob(id string, wordTS, diarize bool) *queue.Job {
	return &queue.Job{
		ReferenceID:           id,
		MediaType:             string(media.TypeAudio),
		IncludeWordTimestamps: wordTS,
		DiarizeSpeakers:       diarize,
	}
}

func TestRunPlainTranscript(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref1")

	if err := fx.p.Run(context.Background(), audioJob("ref1", false, false)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := fx.readArtifact(t, "ref1"); got != "mock transcription output" {
		t.Errorf("artifact = %q, want plain transcript", got)
	}
	if fx.tr.lastOpts.WordTimestamps {
		t.Error("word timestamps requested without the option set")
	}
	if fx.di.calls != 0 {
		t.Errorf("diarizer called %d times without diarize option", fx.di.calls)
	}
}

func TestRunWordTimestamps(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref2")

	if err := fx.p.Run(context.Background(), audioJob("ref2", true, false)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !fx.tr.lastOpts.WordTimestamps {
		t.Error("word timestamps not requested from the transcriber")
	}
	want := `[{"word":"mock","start":0.00,"end":0.50},{"word":"transcription","start":0.60,"end":2.00},{"word":"output","start":2.50,"end":4.00}]`
	if got := fx.readArtifact(t, "ref2"); got != want {
		t.Errorf("artifact = %s, want %s", got, want)
	}
}

func TestRunDiarized(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref3")

	if err := fx.p.Run(context.Background(), audioJob("ref3", false, true)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := `[{"person":"SPEAKER_00","transcript":"mock transcription"},{"person":"SPEAKER_01","transcript":"output"}]`
	if got := fx.readArtifact(t, "ref3"); got != want {
		t.Errorf("artifact = %s, want %s", got, want)
	}
}

func TestRunDiarizedWithSegmentTimes(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref4")

	if err := fx.p.Run(context.Background(), audioJob("ref4", true, true)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := `[{"person":"SPEAKER_00","transcript":"mock transcription","start":0.00,"end":2.00},{"person":"SPEAKER_01","transcript":"output","start":2.50,"end":4.00}]`
	if got := fx.readArtifact(t, "ref4"); got != want {
		t.Errorf("artifact = %s, want %s", got, want)
	}
}

func TestRunMissingUpload(t *testing.T) {
	fx := newFixture(t)

	err := fx.p.Run(context.Background(), audioJob("never-stored", false, false))
	if err == nil {
		t.Fatal("Run succeeded with no stored media file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want a not-found diagnostic", err)
	}
	if fx.tr.calls != 0 {
		t.Error("transcriber called despite missing input")
	}
}

func TestRunTranscriberFailureSurfacesVerbatim(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref5")
	fx.tr.err = errors.New("CUDA out of memory")

	err := fx.p.Run(context.Background(), audioJob("ref5", false, false))
	if err == nil {
		t.Fatal("Run succeeded despite transcriber failure")
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Errorf("error = %v, want the engine diagnostic preserved", err)
	}
	if fx.artifacts.Exists(media.ArtifactKey("ref5")) {
		t.Error("artifact persisted for a failed job")
	}
}

func TestRunDiarizeWithoutDiarizer(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref6")
	fx.p = New(fx.uploads, fx.artifacts, fx.tr, nil, zerolog.Nop())

	err := fx.p.Run(context.Background(), audioJob("ref6", false, true))
	if !errors.Is(err, ErrNoDiarizer) {
		t.Errorf("error = %v, want ErrNoDiarizer", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.storeUpload(t, "ref7")
	job := audioJob("ref7", true, true)

	if err := fx.p.Run(context.Background(), job); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := fx.readArtifact(t, "ref7")

	// Redelivery re-runs the same job from scratch.
	if err := fx.p.Run(context.Background(), job); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second := fx.readArtifact(t, "ref7")

	if first != second {
		t.Errorf("artifacts differ across reruns:\n%s\n%s", first, second)
	}
	if fx.tr.calls != 2 {
		t.Errorf("transcriber calls = %d, want 2", fx.tr.calls)
	}
}
