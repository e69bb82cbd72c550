package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/storage"
	"github.com/snarg/subcache/internal/transcribe"
)

// multipartMemory is how much of a multipart body is held in memory before
// the rest spills to temp files.
const multipartMemory = 32 << 20

var modelSizeRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// transcribeForm holds the non-file fields of POST /transcribe.
type transcribeForm struct {
	Language  string `form:"language" validate:"omitempty,max=35,printascii,excludesall=/\\"`
	ModelSize string `form:"model_size" validate:"omitempty,modelsize"`
	FileID    string `form:"file_id" validate:"omitempty,max=256"`
}

// TranscribeHandler serves POST /transcribe.
type TranscribeHandler struct {
	svc      TranscriptionService
	maxBytes int64
	validate *validator.Validate
	log      zerolog.Logger
}

// NewTranscribeHandler creates the upload handler. maxBytes bounds the whole
// request body; zero or less means unbounded.
func NewTranscribeHandler(svc TranscriptionService, maxBytes int64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		svc:      svc,
		maxBytes: maxBytes,
		validate: newFormValidator(),
		log:      log.With().Str("handler", "transcribe").Logger(),
	}
}

func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	v.RegisterValidation("modelsize", func(fl validator.FieldLevel) bool {
		return modelSizeRe.MatchString(fl.Field().String())
	})
	return v
}

// Routes registers the transcribe endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

// Transcribe accepts a multipart upload with a "file" part and optional
// "language", "model_size" and "file_id" fields.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "upload too large", err.Error())
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := transcribeForm{
		Language:  strings.TrimSpace(r.FormValue("language")),
		ModelSize: strings.TrimSpace(r.FormValue("model_size")),
		FileID:    r.FormValue("file_id"),
	}
	if err := h.validate.Struct(form); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid form field", validationDetail(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "missing file", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	result, err := h.svc.Transcribe(r.Context(), TranscribeRequest{
		Filename:  header.Filename,
		File:      file,
		Language:  form.Language,
		ModelSize: form.ModelSize,
		FileID:    form.FileID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// writeServiceError maps pipeline failures onto HTTP statuses.
func (h *TranscribeHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.log.With().Str("request_id", w.Header().Get("X-Request-ID")).Logger()

	var engineErr *transcribe.EngineError
	switch {
	case errors.Is(err, transcribe.ErrNoSegments):
		WriteErrorDetail(w, http.StatusBadRequest, "no speech detected", "Transcription produced no segments")
	case errors.As(err, &engineErr):
		log.Error().Err(err).Str("engine", engineErr.Engine).Str("model", engineErr.Model).Msg("transcription failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "transcription failed", engineErr.Error())
	case errors.Is(err, transcribe.ErrQueueFull), errors.Is(err, transcribe.ErrPoolStopped):
		log.Warn().Err(err).Msg("transcription unavailable")
		WriteErrorDetail(w, http.StatusServiceUnavailable, "transcription unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("request abandoned")
		WriteErrorDetail(w, http.StatusServiceUnavailable, "request cancelled", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		WriteErrorDetail(w, http.StatusNotFound, "Not found", "Not found")
	default:
		log.Error().Err(err).Msg("transcribe request failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "internal server error", err.Error())
	}
}

// validationDetail renders validator errors as "invalid field (rule)" lines.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, "invalid "+fe.Field()+" ("+fe.Tag()+")")
	}
	return strings.Join(parts, "; ")
}
