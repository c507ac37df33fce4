// ABOUTME: HTTP API handlers for agents, conversations and messages
// ABOUTME: Translates JSON requests into Repository calls and records into JSON responses

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

const (
	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20

	maxIdempotencyKeyLen = 255
)

// AgentResponse is the JSON form of a store.Agent.
type AgentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Avatar      string `json:"avatar"`
	IsDefault   bool   `json:"is_default"`
	CreatedAt   string `json:"created_at"`
}

// ConversationResponse is the JSON form of a store.Conversation.
type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// MessageResponse is the JSON form of a store.Message.
type MessageResponse struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	AgentID        *string `json:"agent_id"`
	IsUser         bool    `json:"is_user"`
	Content        string  `json:"content"`
	ContentHTML    string  `json:"content_html,omitempty"` // only with ?render=html
	CreatedAt      string  `json:"created_at"`
}

// CreateAgentRequest is the JSON request body for POST /api/agents.
type CreateAgentRequest struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Avatar      string `json:"avatar"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// CreateMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type CreateMessageRequest struct {
	AgentID *string `json:"agent_id"`
	IsUser  *bool   `json:"is_user"`
	Content string  `json:"content"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toAgentResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:          a.ID,
		Name:        a.Name,
		Role:        a.Role,
		Description: a.Description,
		Color:       a.Color,
		Avatar:      a.Avatar,
		IsDefault:   a.IsDefault,
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: formatTime(c.CreatedAt),
		UpdatedAt: formatTime(c.UpdatedAt),
	}
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		AgentID:        m.AgentID,
		IsUser:         m.IsUser,
		Content:        m.Content,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// sendInternalError logs a backend failure and hides its details from the client.
func (g *Gateway) sendInternalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	g.logger.Error("request failed",
		"op", op,
		"method", r.Method,
		"path", r.URL.Path,
		"subject", auth.Subject(r.Context()),
		"error", err,
	)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// errBodyTooLarge is returned by decodeJSON when the body exceeds maxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// decodeJSON decodes exactly one JSON object from the request body into dst.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// sendDecodeError maps a decodeJSON failure onto a client error.
func (g *Gateway) sendDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	g.sendJSONError(w, http.StatusBadRequest, err.Error())
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.sendInternalError(w, r, "list agents", err)
		return
	}

	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		response = append(response, toAgentResponse(a))
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleCreateAgent handles POST /api/agents.
func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendDecodeError(w, err)
		return
	}

	in, err := req.validate()
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := g.store.CreateAgent(r.Context(), in)
	if err != nil {
		g.sendInternalError(w, r, "create agent", err)
		return
	}

	g.logger.Info("agent created", "agent_id", agent.ID, "name", agent.Name)
	g.writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// handleGetAgent handles GET /api/agents/{id}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendInternalError(w, r, "get agent", err)
		return
	}
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	g.writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// handleDeleteAgent handles DELETE /api/agents/{id}.
// Default agents are refused with 409 instead of being silently kept.
func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	agent, ok, err := g.store.GetAgent(r.Context(), id)
	if err != nil {
		g.sendInternalError(w, r, "get agent", err)
		return
	}
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	if agent.IsDefault {
		g.sendJSONError(w, http.StatusConflict, "default agents cannot be deleted")
		return
	}

	if err := g.store.DeleteAgent(r.Context(), id); err != nil {
		g.sendInternalError(w, r, "delete agent", err)
		return
	}

	g.logger.Info("agent deleted", "agent_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListConversations(r.Context())
	if err != nil {
		g.sendInternalError(w, r, "list conversations", err)
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		response = append(response, toConversationResponse(c))
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleCreateConversation handles POST /api/conversations.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendDecodeError(w, err)
		return
	}

	in, err := req.validate()
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.store.CreateConversation(r.Context(), in)
	if err != nil {
		g.sendInternalError(w, r, "create conversation", err)
		return
	}

	g.logger.Debug("conversation created", "conversation_id", conv.ID)
	g.writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok, err := g.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendInternalError(w, r, "get conversation", err)
		return
	}
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// requireConversation writes a 404 and returns false when the conversation is absent.
func (g *Gateway) requireConversation(w http.ResponseWriter, r *http.Request, id string) bool {
	_, ok, err := g.store.GetConversation(r.Context(), id)
	if err != nil {
		g.sendInternalError(w, r, "get conversation", err)
		return false
	}
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return false
	}
	return true
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
// The conversation's messages are removed with it.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.requireConversation(w, r, id) {
		return
	}

	if err := g.store.DeleteConversation(r.Context(), id); err != nil {
		g.sendInternalError(w, r, "delete conversation", err)
		return
	}

	g.publish(conversation.Event{Type: conversation.EventConversationDeleted, ConversationID: id})
	g.logger.Debug("conversation deleted", "conversation_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages handles GET /api/conversations/{id}/messages.
// With ?render=html each message also carries its content rendered from markdown.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	renderHTML := false
	switch mode := r.URL.Query().Get("render"); mode {
	case "":
	case "html":
		renderHTML = true
	default:
		g.sendJSONError(w, http.StatusBadRequest, "render must be html")
		return
	}

	if !g.requireConversation(w, r, id) {
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), id)
	if err != nil {
		g.sendInternalError(w, r, "list messages", err)
		return
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp := toMessageResponse(m)
		if renderHTML {
			html, err := renderMarkdown(m.Content)
			if err != nil {
				g.sendInternalError(w, r, "render message", err)
				return
			}
			resp.ContentHTML = html
		}
		response = append(response, resp)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// replayCacheKey scopes an Idempotency-Key to its caller and conversation.
func replayCacheKey(subject, conversationID, key string) string {
	return subject + "\x00" + conversationID + "\x00" + key
}

// handleCreateMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req CreateMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendDecodeError(w, err)
		return
	}

	in, err := req.validate(id)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLen {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("Idempotency-Key must be at most %d bytes", maxIdempotencyKeyLen))
		return
	}

	if !g.requireConversation(w, r, id) {
		return
	}

	// Posts sharing a key are serialized so a retry racing its original cannot create a second message
	var replayKey string
	if key != "" {
		replayKey = replayCacheKey(auth.Subject(r.Context()), id, key)
		unlock := g.replayLocks.Lock(replayKey)
		defer unlock()

		if resp, ok := g.replays.Get(replayKey); ok {
			g.logger.Debug("replaying message create", "conversation_id", id, "message_id", resp.ID)
			w.Header().Set("Idempotent-Replayed", "true")
			g.writeJSON(w, http.StatusCreated, resp)
			return
		}
	}

	if in.AgentID != nil {
		_, ok, err := g.store.GetAgent(r.Context(), *in.AgentID)
		if err != nil {
			g.sendInternalError(w, r, "get agent", err)
			return
		}
		if !ok {
			g.sendJSONError(w, http.StatusBadRequest, "unknown agent_id")
			return
		}
	}

	msg, err := g.store.CreateMessage(r.Context(), in)
	if err != nil {
		g.sendInternalError(w, r, "create message", err)
		return
	}

	resp := toMessageResponse(msg)
	if replayKey != "" {
		g.replays.Put(replayKey, resp)
	}
	g.publish(conversation.Event{Type: conversation.EventMessageCreated, ConversationID: id, Message: msg})

	g.logger.Debug("message created",
		"conversation_id", id,
		"message_id", msg.ID,
		"is_user", msg.IsUser,
	)
	g.writeJSON(w, http.StatusCreated, resp)
}

// handleDeleteMessages handles DELETE /api/conversations/{id}/messages.
// The conversation itself is kept.
func (g *Gateway) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.requireConversation(w, r, id) {
		return
	}

	if err := g.store.DeleteMessages(r.Context(), id); err != nil {
		g.sendInternalError(w, r, "delete messages", err)
		return
	}
	g.publish(conversation.Event{Type: conversation.EventMessagesCleared, ConversationID: id})
	w.WriteHeader(http.StatusNoContent)
}
