package api

import (
	"context"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/media"
	"github.com/ashdown/scribed/internal/metrics"
	"github.com/ashdown/scribed/internal/storage"
)

// Enqueuer enqueues a processing job after an upload is fully persisted.
type Enqueuer interface {
	Enqueue(ctx context.Context, referenceID, mediaType string, wordTimestamps, diarize bool) error
}

// EventPublishFunc is an optional callback for job lifecycle events.
type EventPublishFunc func(event, referenceID string, payload map[string]any)

// UploadHandler ingests media files and enqueues their transcription jobs.
type UploadHandler struct {
	uploads *storage.Store
	queue   Enqueuer
	publish EventPublishFunc
	now     func() time.Time
	log     zerolog.Logger
}

// NewUploadHandler creates an upload handler. publish may be nil.
func NewUploadHandler(uploads *storage.Store, queue Enqueuer, publish EventPublishFunc, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		uploads: uploads,
		queue:   queue,
		publish: publish,
		now:     time.Now,
		log:     log.With().Str("handler", "upload").Logger(),
	}
}

// Routes registers the upload endpoint.
func (h *UploadHandler) Routes(r chi.Router) {
	r.Post("/upload", h.Upload)
}

// UploadResponse is the body returned for a successful upload.
type UploadResponse struct {
	ReferenceID string `json:"reference_id"`
}

// Upload handles POST /upload. Classification runs on the sanitized
// filename before any bytes are persisted; the job is enqueued only after
// the upload write fully succeeds.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field in multipart form")
		return
	}
	defer file.Close()

	wordTimestamps, err := FormBool(r, "include_word_timestamps")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	diarize, err := FormBool(r, "diarize_speakers")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sanitized := media.SanitizeFilename(header.Filename)
	mediaType := media.Classify(sanitized)
	if mediaType == media.TypeUnsupported {
		WriteError(w, http.StatusUnsupportedMediaType,
			"unsupported media type: only mp4, mov, avi, mkv, mp3, wav, and flac are accepted")
		return
	}

	referenceID, err := h.store(r.Context(), file, header.Filename)
	if err != nil {
		h.log.Error().Err(err).Str("filename", sanitized).Msg("upload storage failed")
		WriteError(w, http.StatusInternalServerError, "error storing the uploaded file")
		return
	}

	if err := h.queue.Enqueue(r.Context(), referenceID, string(mediaType), wordTimestamps, diarize); err != nil {
		// Keep the invariant: stored file, queue job, and artifact exist
		// together or not at all.
		if rmErr := h.uploads.Remove(referenceID); rmErr != nil {
			h.log.Error().Err(rmErr).Str("reference_id", referenceID).Msg("orphaned upload cleanup failed")
		}
		h.log.Error().Err(err).Str("reference_id", referenceID).Msg("enqueue failed")
		WriteError(w, http.StatusInternalServerError, "error enqueueing the transcription job")
		return
	}

	metrics.JobsEnqueuedTotal.Inc()
	if h.publish != nil {
		h.publish("enqueued", referenceID, map[string]any{"media_type": string(mediaType)})
	}
	h.log.Info().
		Str("reference_id", referenceID).
		Str("media_type", string(mediaType)).
		Bool("word_timestamps", wordTimestamps).
		Bool("diarize", diarize).
		Msg("upload accepted")

	WriteJSON(w, http.StatusOK, UploadResponse{ReferenceID: referenceID})
}

// store streams the upload into the store under a fresh reference ID.
// When two uploads share a filename within the same second, the second
// gets a short random suffix instead of clobbering the first.
func (h *UploadHandler) store(ctx context.Context, file multipart.File, filename string) (string, error) {
	referenceID := media.NewReferenceID(h.now(), filename)

	err := h.uploads.Create(ctx, referenceID, file)
	if errors.Is(err, fs.ErrExist) {
		if _, serr := file.Seek(0, 0); serr != nil {
			return "", serr
		}
		referenceID = media.WithCollisionSuffix(referenceID)
		err = h.uploads.Create(ctx, referenceID, file)
	}
	if err != nil {
		return "", err
	}
	return referenceID, nil
}
