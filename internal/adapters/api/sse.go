package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inkpost/internal/core"
)

// sseKeepaliveInterval paces comment frames on an idle event stream.
// Hotspot links drop quiet TCP connections without a FIN; the comment lets
// a client notice a dead stream between jobs instead of waiting forever.
const sseKeepaliveInterval = 15 * time.Second

// sseStream frames server-sent events over one client connection.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (st *sseStream) event(eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(st.w, "event: %s\ndata: %s\n\n", eventType, payload)
	st.flusher.Flush()
	return nil
}

// comment writes an SSE comment frame. Clients ignore it; proxies and the
// TCP stack see traffic.
func (st *sseStream) comment(text string) {
	fmt.Fprintf(st.w, ": %s\n\n", text)
	st.flusher.Flush()
}

// handleSSE streams job updates to one client. On connect the client
// receives the active job's snapshot, so a subscriber that attaches in the
// middle of a batch send or delete sees it immediately rather than at its
// next progress tick. After that, every job event is forwarded as it
// happens, with keepalive comments while nothing runs.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "sse_not_supported", "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan core.JobUpdateEvent, 100)
	s.addSSEClient(events)
	defer s.removeSSEClient(events)

	stream := &sseStream{w: w, flusher: flusher}

	if active := s.jobManager.GetActiveJob(); active != nil {
		stream.event("job:snapshot", active)
	} else {
		stream.comment("connected")
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Printf("[API] SSE client gone")
			return
		case <-keepalive.C:
			stream.comment("keepalive")
		case event, open := <-events:
			if !open {
				return
			}
			if event.LogLine != "" {
				stream.event("job:log", map[string]interface{}{
					"jobId":   event.JobID,
					"logLine": event.LogLine,
					"seq":     event.Seq,
				})
			}
			stream.event(sseEventType(event.State), event)
		}
	}
}

// sseEventType maps a job state onto the stream's event name.
func sseEventType(state core.JobState) string {
	switch state {
	case core.JobSucceeded:
		return "job:completed"
	case core.JobFailed:
		return "job:failed"
	case core.JobCanceled:
		return "job:canceled"
	default:
		return "job:update"
	}
}
