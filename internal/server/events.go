package server

import (
	"encoding/json"
	"net/http"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// broadcastEvent marshals a workflow.Event to JSON and fans it out to every
// connected /api/v1/events client. Passed as RunOptions.OnEvent so every
// run — manual, webhook, or cron — shows up on the same live stream.
func (s *Server) broadcastEvent(e workflow.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	s.broadcastMessage(MessageChannel{
		Type:  string(e.Type),
		Value: string(data),
	})
}

// EventsAPI handles GET /api/v1/events: a server-sent-events stream of
// workflow execution events (node start/complete/error, execution
// start/complete/error) across every run currently in flight.
func (s *Server) EventsAPI(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpResponse(w, "streaming not supported by this server", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	key, messages := s.addClient()
	defer s.deleteClient(key)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			writeSSEMessage(w, flusher, msg)
		}
	}
}

func writeSSEMessage(w http.ResponseWriter, flusher http.Flusher, msg MessageChannel) {
	if msg.Type != "" {
		w.Write([]byte("event: " + msg.Type + "\n")) //nolint:errcheck
	}
	w.Write([]byte("data: " + msg.Value + "\n\n")) //nolint:errcheck
	flusher.Flush()
}
