package api

import (
	"encoding/json"
	"net/http"
)

// rawRequest is the body of POST /raw.
type rawRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// handlePublishRaw sends a developer-supplied message verbatim. The
// engine's gate limits it to the developer role.
func (s *Server) handlePublishRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res := s.engine.PublishRaw(r.Context(), principalFrom(r.Context()), req.Topic, []byte(req.Payload))
	writeResult(w, res)
}
