package translate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/RaviKiran093/multilingual-video-call/internal/httpserver"
	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
)

// Translator matches the caption pipeline's translator contract so the
// handler and the pipeline can share one backend.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Handler serves one-off translation requests over REST.
type Handler struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	translator Translator
	defaultTo  string
}

func NewHandler(logger *slog.Logger, m *metrics.Metrics, translator Translator, defaultTargetLang string) *Handler {
	return &Handler{
		log:        logger,
		metrics:    m,
		translator: translator,
		defaultTo:  defaultTargetLang,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /translate", h.handleTranslate)
}

type apiRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

type apiResponse struct {
	Translated string `json:"translated"`
}

type apiError struct {
	Error string `json:"error"`
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	if req.Text == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, apiError{Error: "text is required"})
		return
	}
	target := req.TargetLanguage
	if target == "" {
		target = h.defaultTo
	}

	translated, err := h.translator.Translate(r.Context(), req.Text, req.SourceLanguage, target)
	if err != nil {
		h.metrics.Inc(metrics.TranslateFailure)
		h.log.Warn("translate request failed", "target", target, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, apiError{Error: "translation failed"})
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, apiResponse{Translated: translated})
}
