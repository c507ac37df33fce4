// ABOUTME: Server-Sent Events stream of live conversation changes
// ABOUTME: Serves GET /api/conversations/{id}/events from the conversation broadcaster

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/conversation"
)

// sseHeartbeatInterval is the default Gateway.heartbeatInterval.
const sseHeartbeatInterval = 30 * time.Second

// publish forwards a change to live subscribers of its conversation.
func (g *Gateway) publish(ev conversation.Event) {
	g.events.Publish(ev)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
	return err
}

// sseData converts a broadcaster event into its JSON payload.
func sseData(ev conversation.Event, renderHTML bool) (any, error) {
	if ev.Type != conversation.EventMessageCreated || ev.Message == nil {
		return map[string]string{"conversation_id": ev.ConversationID}, nil
	}
	resp := toMessageResponse(ev.Message)
	if renderHTML {
		html, err := renderMarkdown(ev.Message.Content)
		if err != nil {
			return nil, err
		}
		resp.ContentHTML = html
	}
	return resp, nil
}

// handleConversationEvents handles GET /api/conversations/{id}/events.
// The stream ends when the client disconnects, the conversation is deleted,
// or the gateway shuts down.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	renderHTML := false
	switch r.URL.Query().Get("render") {
	case "":
	case "html":
		renderHTML = true
	default:
		g.sendJSONError(w, http.StatusBadRequest, "render must be html")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the existence check so nothing published in between is lost
	events, cancel := g.events.Subscribe(id)
	defer cancel()

	if !g.requireConversation(w, r, id) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	if err := g.writeSSEEvent(w, "connected", map[string]string{"conversation_id": id}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(g.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				// Broadcaster closed: gateway is shutting down
				return
			}

			data, err := sseData(ev, renderHTML)
			if err != nil {
				g.logger.Error("failed to build SSE event", "conversation_id", id, "error", err)
				continue
			}
			if err := g.writeSSEEvent(w, string(ev.Type), data); err != nil {
				return
			}
			flusher.Flush()

			if ev.Type == conversation.EventConversationDeleted {
				return
			}
		}
	}
}
