package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/subcache/internal/storage"
)

type MediaHandler struct {
	svc TranscriptionService
}

func NewMediaHandler(svc TranscriptionService) *MediaHandler {
	return &MediaHandler{svc: svc}
}

func (h *MediaHandler) Routes(r chi.Router) {
	r.Get("/media/{hash}", h.GetMedia)
}

// GetMedia returns the stored media URL and whatever transcript exists for it.
func (h *MediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Lookup(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, storage.ErrNotFound) {
		WriteErrorDetail(w, http.StatusNotFound, "Not found", "Not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("media lookup failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "internal server error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
