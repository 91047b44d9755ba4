package devserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("http: encode response", zap.Error(err))
	}
}

// writeError writes {"error": message}, plus details when given.
func (s *Server) writeError(w http.ResponseWriter, status int, message string, details any) {
	body := map[string]any{"error": message}
	if details != nil {
		body["details"] = details
	}
	s.writeJSON(w, status, body)
}

// storeError maps store errors to HTTP responses.
func (s *Server) storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, ErrNotFound) {
		s.writeError(w, http.StatusNotFound, what+" not found", nil)
		return
	}
	s.log.Error("http: store failure", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal server error", nil)
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
