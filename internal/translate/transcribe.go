package translate

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/RaviKiran093/multilingual-video-call/internal/httpserver"
	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
)

// TranscriptionHandler serves speech-to-text requests over REST. When the
// request names a target language the transcript is also translated, so one
// round trip yields both.
type TranscriptionHandler struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	transcriber Transcriber
	translator  Translator
}

func NewTranscriptionHandler(logger *slog.Logger, m *metrics.Metrics, transcriber Transcriber, translator Translator) *TranscriptionHandler {
	return &TranscriptionHandler{
		log:         logger,
		metrics:     m,
		transcriber: transcriber,
		translator:  translator,
	}
}

func (h *TranscriptionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /transcribe", h.handleTranscribe)
	mux.HandleFunc("GET /languages", h.handleLanguages)
}

type transcribeRequest struct {
	AudioPath      string `json:"audioPath"`
	Language       string `json:"language"`
	TargetLanguage string `json:"targetLanguage"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	Translation   string `json:"translation,omitempty"`
}

func (h *TranscriptionHandler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	if req.AudioPath == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, apiError{Error: "audioPath is required"})
		return
	}

	transcript, err := h.transcriber.Transcribe(r.Context(), req.AudioPath, req.Language)
	if err != nil {
		h.metrics.Inc(metrics.TranscribeFailure)
		h.log.Warn("transcription failed", "audio", req.AudioPath, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, apiError{Error: "transcription failed"})
		return
	}

	resp := transcribeResponse{Transcription: transcript}
	if req.TargetLanguage != "" && req.TargetLanguage != req.Language {
		translated, err := h.translator.Translate(r.Context(), transcript, req.Language, req.TargetLanguage)
		if err != nil {
			h.metrics.Inc(metrics.TranslateFailure)
			h.log.Warn("transcript translation failed", "target", req.TargetLanguage, "err", err)
			httpserver.WriteJSON(w, http.StatusInternalServerError, apiError{Error: "translation failed"})
			return
		}
		resp.Translation = translated
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (h *TranscriptionHandler) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, Languages)
}
