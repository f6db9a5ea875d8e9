package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/voxfill/pkg/form"
)

// Client-facing messages.
const (
	msgTooManyRequests   = "Too many requests. Please try again later."
	msgInvalidBody       = "Invalid request body"
	msgBodyTooLarge      = "Request body too large"
	msgParseFailed       = "Failed to parse speech"
	msgTranscribeFailed  = "Failed to transcribe audio"
	msgNoAudio           = "No audio file provided"
	msgSTTUnavailable    = "Speech-to-text is not configured"
	msgLLMUnavailable    = "LLM provider is not configured"
	msgUnknownProvider   = "Unknown LLM provider"
	msgNoSchema          = "No form schema configured"
	msgNoForm            = "No form found in document"
	msgOpenAPIFailed     = "Could not build a form from the OpenAPI document"
	msgStatusUnavailable = "Failed to check LLM status"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}

// decodeJSON reads a single JSON value from r's body into dst. Unknown fields
// are accepted so clients may send UI-only options.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeBodyError reports a body read or decode failure.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
		return
	}
	writeError(w, http.StatusBadRequest, msgInvalidBody)
}

// schemaMessage renders a schema problem for clients.
func schemaMessage(err error) string {
	var se *form.SchemaError
	if !errors.As(err, &se) {
		return msgInvalidBody
	}
	if se.Path == "" {
		return se.Reason
	}
	return se.Path + ": " + se.Reason
}
