package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxfill/internal/gateway"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/transcript"
	"github.com/MrWong99/voxfill/pkg/form"
	"github.com/MrWong99/voxfill/pkg/form/extract"
	"github.com/MrWong99/voxfill/pkg/provider/stt"
)

// parseRequest is the body of POST /api/parse-speech. Config carries
// browser-side options and is ignored.
type parseRequest struct {
	Text          string         `json:"text"`
	FormStructure *form.Schema   `json:"formStructure"`
	Provider      string         `json:"provider"`
	Config        map[string]any `json:"config,omitempty"`
}

func (s *Server) handleParseSpeech(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	text, err := transcript.ValidateText(req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schema := req.FormStructure
	if schema == nil {
		if cur, ok := s.session.Schema(); ok {
			schema = &cur
		}
	}
	if err := form.CheckSchema(schema); err != nil {
		writeError(w, http.StatusBadRequest, schemaMessage(err))
		return
	}

	res, err := s.session.Process(ctx, text, *schema, req.Provider)
	if err != nil {
		log.Error("parse speech failed", "provider", req.Provider, "text_len", len(text), "error", err)
		switch {
		case errors.Is(err, transcript.ErrEmptyText):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, gateway.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, msgUnknownProvider)
		case errors.Is(err, gateway.ErrNoProvider):
			writeError(w, http.StatusServiceUnavailable, msgLLMUnavailable)
		default:
			writeError(w, http.StatusInternalServerError, msgParseFailed)
		}
		return
	}

	log.Info("speech parsed",
		"text_len", len(text),
		"fields", len(schema.Fields),
		"updated", len(res.UpdatedFields),
		"errors", len(res.Errors))
	writeJSON(w, http.StatusOK, res)
}

type transcribeResponse struct {
	Success  bool   `json:"success"`
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if s.stt == nil {
		writeError(w, http.StatusServiceUnavailable, msgSTTUnavailable)
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, transcript.ErrAudioTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, msgNoAudio)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, transcript.ErrEmptyAudio.Error())
		return
	}
	defer file.Close()

	contentType := hdr.Header.Get("Content-Type")
	if err := transcript.ValidateAudio(hdr.Size, contentType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		log.Error("read audio upload", "error", err)
		writeError(w, http.StatusBadRequest, msgNoAudio)
		return
	}

	start := time.Now()
	t, err := s.stt.Transcribe(ctx, stt.Audio{
		Data:        data,
		Filename:    hdr.Filename,
		ContentType: contentType,
		Language:    r.FormValue("language"),
	})
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.stt.Name())))
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.stt.Name(), "stt")
		s.metrics.RecordProviderRequest(ctx, s.stt.Name(), "stt", "error")
		log.Error("speech-to-text failed", "provider", s.stt.Name(), "bytes", len(data), "error", err)
		writeError(w, http.StatusInternalServerError, msgTranscribeFailed)
		return
	}
	s.metrics.RecordProviderRequest(ctx, t.Provider, "stt", "ok")

	log.Info("audio transcribed", "provider", t.Provider, "bytes", len(data), "text_len", len(t.Text))
	writeJSON(w, http.StatusOK, transcribeResponse{
		Success:  true,
		Text:     t.Text,
		Provider: t.Provider,
		Language: t.Language,
	})
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, _ *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusInternalServerError, msgStatusUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.llm.Status())
}

type extractFormRequest struct {
	HTML string `json:"html"`
}

// handleExtractForm accepts either a raw HTML body or {"html": "..."}. With
// ?apply=true the extracted schema also becomes the session default.
func (s *Server) handleExtractForm(w http.ResponseWriter, r *http.Request) {
	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req extractFormRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		src = strings.NewReader(req.HTML)
	}

	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))
	var (
		schema form.Schema
		err    error
	)
	if apply {
		schema, err = s.session.DetectHTML(src)
	} else {
		schema, err = extract.FromHTML(src)
	}
	if err != nil {
		observe.Logger(r.Context()).Debug("form extraction failed", "error", err)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
		case errors.Is(err, form.ErrNoForm):
			writeError(w, http.StatusUnprocessableEntity, msgNoForm)
		default:
			writeError(w, http.StatusUnprocessableEntity, schemaMessage(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, form.Normalize(schema))
}

type extractOpenAPIRequest struct {
	Document string `json:"document"`
	Path     string `json:"path"`
	Method   string `json:"method"`
}

func (s *Server) handleExtractOpenAPI(w http.ResponseWriter, r *http.Request) {
	var req extractOpenAPIRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if strings.TrimSpace(req.Document) == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "document and path are required")
		return
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}

	schema, err := extract.FromOpenAPI(r.Context(), []byte(req.Document), req.Path, req.Method)
	if err != nil {
		observe.Logger(r.Context()).Debug("openapi extraction failed", "path", req.Path, "method", req.Method, "error", err)
		writeError(w, http.StatusUnprocessableEntity, msgOpenAPIFailed)
		return
	}
	writeJSON(w, http.StatusOK, form.Normalize(schema))
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	schema, ok := s.session.Schema()
	if !ok {
		writeError(w, http.StatusNotFound, msgNoSchema)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}
