package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
)

// handleSSEGlobal streams events filtered by the tenant and type query
// parameters. type may be repeated or comma separated.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var types []string
	for _, v := range q["type"] {
		for t := range strings.SplitSeq(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	s.serveSSE(w, r, streaming.Filter{TenantID: q.Get("tenant"), Types: types})
}

// handleSSERun streams events for a specific run.
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.Filter{RunID: r.PathValue("id")})
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.Filter) {
	if s.deps.Hub == nil {
		http.Error(w, "event streaming disabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
