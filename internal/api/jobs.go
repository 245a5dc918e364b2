package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/media"
	"github.com/ashdown/scribed/internal/queue"
	"github.com/ashdown/scribed/internal/storage"
)

// JobsHandler serves listing, status, and artifact download. The set of
// known reference IDs is defined by the stored uploads; job state comes
// from the status resolver.
type JobsHandler struct {
	uploads   *storage.Store
	artifacts *storage.Store
	resolver  queue.StatusResolver
	log       zerolog.Logger
}

func NewJobsHandler(uploads, artifacts *storage.Store, resolver queue.StatusResolver, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		uploads:   uploads,
		artifacts: artifacts,
		resolver:  resolver,
		log:       log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers the job endpoints.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/list", h.List)
	r.Get("/status/{referenceID}", h.Status)
	r.Get("/download/{referenceID}", h.Download)
}

// ListResponse is the paginated listing body.
type ListResponse struct {
	Items []queue.JobStatus `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
}

// List handles GET /list?page&size&sort_order. Reference IDs are the stored
// uploads sorted by file creation time; statuses are resolved only for the
// requested window.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := ParsePageParams(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	desc, err := ParseSortOrder(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.uploads.List()
	if err != nil {
		h.log.Error().Err(err).Msg("listing uploads failed")
		WriteError(w, http.StatusInternalServerError, "error listing transcriptions")
		return
	}
	if desc {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	total := len(entries)

	start := params.Offset()
	if start > total {
		start = total
	}
	end := start + params.Size
	if end > total {
		end = total
	}

	ids := make([]string, 0, end-start)
	for _, e := range entries[start:end] {
		ids = append(ids, e.Key)
	}

	items, err := h.resolver.ResolveMany(r.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Msg("status resolution failed")
		WriteError(w, http.StatusInternalServerError, "error resolving job statuses")
		return
	}

	WriteJSON(w, http.StatusOK, ListResponse{
		Items: items,
		Total: total,
		Page:  params.Page,
		Size:  params.Size,
	})
}

// Status handles GET /status/{referenceID}. 404 when the reference ID has
// no stored upload.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	referenceID := chi.URLParam(r, "referenceID")
	if !h.uploads.Exists(referenceID) {
		WriteError(w, http.StatusNotFound, "unknown reference ID")
		return
	}

	st, err := h.resolver.Resolve(r.Context(), referenceID)
	if err != nil {
		h.log.Error().Err(err).Str("reference_id", referenceID).Msg("status resolution failed")
		WriteError(w, http.StatusInternalServerError, "error resolving job status")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// Download handles GET /download/{referenceID}, returning the artifact as
// a file attachment. 404 for unknown IDs, 400 before the job completes.
func (h *JobsHandler) Download(w http.ResponseWriter, r *http.Request) {
	referenceID := chi.URLParam(r, "referenceID")
	if !h.uploads.Exists(referenceID) {
		WriteError(w, http.StatusNotFound, "unknown reference ID")
		return
	}

	st, err := h.resolver.Resolve(r.Context(), referenceID)
	if err != nil {
		h.log.Error().Err(err).Str("reference_id", referenceID).Msg("status resolution failed")
		WriteError(w, http.StatusInternalServerError, "error resolving job status")
		return
	}
	if st.Status != queue.StatusCompleted {
		WriteError(w, http.StatusBadRequest, "transcription is not completed (status: "+string(st.Status)+")")
		return
	}

	key := media.ArtifactKey(referenceID)
	rc, err := h.artifacts.Open(key)
	if err != nil {
		// COMPLETED without an artifact breaks the join invariant; treat
		// it as not found and leave a trace for the operator.
		h.log.Error().Err(err).Str("reference_id", referenceID).Msg("artifact missing for completed job")
		WriteError(w, http.StatusNotFound, "transcription artifact not found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+key+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("reference_id", referenceID).Msg("artifact download interrupted")
	}
}
