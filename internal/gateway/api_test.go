// ABOUTME: Tests for the HTTP API handlers
// ABOUTME: Covers CRUD status codes, validation, cascade deletes, rendering and auth

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/store"
)

const apiTestSecret = "gateway-api-test-secret-32-bytes"

// newTestGateway creates a memory-backed gateway that is shut down with the test.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	gw, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// doRequest sends a request straight to the gateway handler.
func doRequest(t *testing.T, gw *Gateway, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rec)["error"]
}

func createConversation(t *testing.T, gw *Gateway, title string) ConversationResponse {
	t.Helper()
	rec := doRequest(t, gw, http.MethodPost, "/api/conversations", `{"title":"`+title+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ConversationResponse](t, rec)
}

func postMessage(t *testing.T, gw *Gateway, convID, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, gw, http.MethodPost, "/api/conversations/"+convID+"/messages", body)
}

func TestListAgents_Defaults(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	agents := decodeBody[[]AgentResponse](t, rec)
	require.Len(t, agents, 3)
	for i, id := range store.DefaultAgentIDs() {
		assert.Equal(t, id, agents[i].ID)
		assert.True(t, agents[i].IsDefault)
	}
	assert.Equal(t, "Assistant", agents[0].Name)
	assert.Equal(t, "A", agents[0].Avatar)
}

func TestCreateAgent(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/api/agents",
		`{"name":"  Poet ","role":"Writer","description":"Writes verse","color":"hsl(300 70% 50%)","avatar":"P"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeBody[AgentResponse](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Poet", created.Name, "surrounding whitespace is trimmed")
	assert.Equal(t, "Writer", created.Role)
	assert.False(t, created.IsDefault)

	createdAt, err := time.Parse(time.RFC3339Nano, created.CreatedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), createdAt, time.Minute)

	rec = doRequest(t, gw, http.MethodGet, "/api/agents/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeBody[AgentResponse](t, rec))
}

func TestCreateAgent_Validation(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing name", body: `{"role":"Writer"}`, wantErr: "name is required"},
		{name: "blank name", body: `{"name":"   ","role":"Writer"}`, wantErr: "name is required"},
		{name: "missing role", body: `{"name":"Poet"}`, wantErr: "role is required"},
		{name: "long name", body: `{"name":"` + strings.Repeat("n", 101) + `","role":"Writer"}`, wantErr: "name must be at most 100 characters"},
		{name: "long role", body: `{"name":"Poet","role":"` + strings.Repeat("r", 101) + `"}`, wantErr: "role must be at most 100 characters"},
		{name: "long avatar", body: `{"name":"Poet","role":"Writer","avatar":"ABCDE"}`, wantErr: "avatar must be at most 4 characters"},
		{name: "unknown field", body: `{"name":"Poet","role":"Writer","is_default":true}`, wantErr: "invalid JSON body"},
		{name: "invalid JSON", body: `{"name":`, wantErr: "invalid JSON body"},
		{name: "trailing data", body: `{"name":"Poet","role":"Writer"} {}`, wantErr: "invalid JSON body"},
		{name: "empty body", body: ``, wantErr: "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, gw, http.MethodPost, "/api/agents", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec), tt.wantErr)
		})
	}

	rec := doRequest(t, gw, http.MethodGet, "/api/agents", "")
	assert.Len(t, decodeBody[[]AgentResponse](t, rec), 3, "rejected payloads create nothing")
}

func TestCreateAgent_MultibyteLimits(t *testing.T) {
	gw := newTestGateway(t)

	// Four characters, more than four bytes
	rec := doRequest(t, gw, http.MethodPost, "/api/agents", `{"name":"Émile","role":"Chef","avatar":"🍳🍳🍳🍳"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateAgent_BodyTooLarge(t *testing.T) {
	gw := newTestGateway(t)

	body := `{"name":"Poet","role":"Writer","description":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := doRequest(t, gw, http.MethodPost, "/api/agents", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request body too large", decodeError(t, rec))
}

func TestGetAgent_NotFound(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/api/agents/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "agent not found", decodeError(t, rec))
}

func TestDeleteAgent(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/api/agents", `{"name":"Temp","role":"Scratch"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[AgentResponse](t, rec)

	rec = doRequest(t, gw, http.MethodDelete, "/api/agents/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = doRequest(t, gw, http.MethodGet, "/api/agents/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, gw, http.MethodDelete, "/api/agents/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAgent_DefaultRefused(t *testing.T) {
	gw := newTestGateway(t)

	for _, id := range store.DefaultAgentIDs() {
		rec := doRequest(t, gw, http.MethodDelete, "/api/agents/"+id, "")
		assert.Equal(t, http.StatusConflict, rec.Code, id)
		assert.Equal(t, "default agents cannot be deleted", decodeError(t, rec))
	}

	rec := doRequest(t, gw, http.MethodGet, "/api/agents", "")
	assert.Len(t, decodeBody[[]AgentResponse](t, rec), 3)
}

func TestConversations_CreateGetAndOrder(t *testing.T) {
	gw := newTestGateway(t)

	a := createConversation(t, gw, "A")
	b := createConversation(t, gw, "B")
	c := createConversation(t, gw, "C")
	assert.Equal(t, a.CreatedAt, a.UpdatedAt)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/"+b.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, b, decodeBody[ConversationResponse](t, rec))

	require.Equal(t, http.StatusCreated, postMessage(t, gw, c.ID, `{"content":"to C"}`).Code)
	require.Equal(t, http.StatusCreated, postMessage(t, gw, a.ID, `{"content":"to A"}`).Code)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var titles []string
	for _, conv := range decodeBody[[]ConversationResponse](t, rec) {
		titles = append(titles, conv.Title)
	}
	assert.Equal(t, []string{"A", "C", "B"}, titles)
}

func TestConversations_EmptyList(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateConversation_Validation(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/api/conversations", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title is required", decodeError(t, rec))

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations", `{"title":"`+strings.Repeat("t", 201)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title must be at most 200 characters", decodeError(t, rec))

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "conversation not found", decodeError(t, rec))
}

func TestCreateMessage(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")

	rec := postMessage(t, gw, conv.ID, `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"agent_id":null`)

	plain := decodeBody[MessageResponse](t, rec)
	assert.Equal(t, conv.ID, plain.ConversationID)
	assert.Nil(t, plain.AgentID)
	assert.False(t, plain.IsUser)
	assert.Equal(t, "hello", plain.Content)
	assert.Empty(t, plain.ContentHTML)

	rec = postMessage(t, gw, conv.ID, `{"content":"from me","is_user":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decodeBody[MessageResponse](t, rec).IsUser)

	rec = postMessage(t, gw, conv.ID, `{"content":"  indented reply\n","agent_id":"`+store.AgentCoder+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	reply := decodeBody[MessageResponse](t, rec)
	require.NotNil(t, reply.AgentID)
	assert.Equal(t, store.AgentCoder, *reply.AgentID)
	assert.Equal(t, "  indented reply\n", reply.Content, "content is stored verbatim")

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID, "")
	updated := decodeBody[ConversationResponse](t, rec)
	assert.Equal(t, reply.CreatedAt, updated.UpdatedAt, "conversation is bumped to the newest message")
}

func TestCreateMessage_Errors(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")

	tests := []struct {
		name       string
		convID     string
		body       string
		wantStatus int
		wantErr    string
	}{
		{name: "unknown conversation", convID: "missing", body: `{"content":"hi"}`, wantStatus: http.StatusNotFound, wantErr: "conversation not found"},
		{name: "unknown agent", convID: conv.ID, body: `{"content":"hi","agent_id":"ghost"}`, wantStatus: http.StatusBadRequest, wantErr: "unknown agent_id"},
		{name: "empty agent id", convID: conv.ID, body: `{"content":"hi","agent_id":""}`, wantStatus: http.StatusBadRequest, wantErr: "agent_id must not be empty"},
		{name: "missing content", convID: conv.ID, body: `{"is_user":true}`, wantStatus: http.StatusBadRequest, wantErr: "content is required"},
		{name: "blank content", convID: conv.ID, body: `{"content":" \n "}`, wantStatus: http.StatusBadRequest, wantErr: "content is required"},
		{name: "wrong type", convID: conv.ID, body: `{"content":"hi","is_user":"yes"}`, wantStatus: http.StatusBadRequest, wantErr: "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessage(t, gw, tt.convID, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decodeError(t, rec), tt.wantErr)
		})
	}

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	assert.JSONEq(t, `[]`, rec.Body.String(), "failed posts store nothing")
}

func TestListMessages_Chronological(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")

	for _, content := range []string{"one", "two", "three"} {
		require.Equal(t, http.StatusCreated, postMessage(t, gw, conv.ID, `{"content":"`+content+`"}`).Code)
	}

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "content_html")

	msgs := decodeBody[[]MessageResponse](t, rec)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessages_RenderHTML(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")

	require.Equal(t, http.StatusCreated, postMessage(t, gw, conv.ID, `{"content":"**bold** and ~~gone~~"}`).Code)
	require.Equal(t, http.StatusCreated, postMessage(t, gw, conv.ID, `{"content":"<script>alert(1)</script>"}`).Code)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages?render=html", "")
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := decodeBody[[]MessageResponse](t, rec)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].ContentHTML, "<strong>bold</strong>")
	assert.Contains(t, msgs[0].ContentHTML, "<del>gone</del>")
	assert.Equal(t, "**bold** and ~~gone~~", msgs[0].Content, "raw content is kept alongside")
	assert.NotContains(t, msgs[1].ContentHTML, "<script>")

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages?render=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "render must be html", decodeError(t, rec))
}

func TestDeleteConversation_Cascade(t *testing.T) {
	gw := newTestGateway(t)
	doomed := createConversation(t, gw, "Doomed")
	kept := createConversation(t, gw, "Kept")

	require.Equal(t, http.StatusCreated, postMessage(t, gw, doomed.ID, `{"content":"bye"}`).Code)
	require.Equal(t, http.StatusCreated, postMessage(t, gw, kept.ID, `{"content":"stay"}`).Code)

	rec := doRequest(t, gw, http.MethodDelete, "/api/conversations/"+doomed.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+doomed.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	msgs, err := gw.store.ListMessages(context.Background(), doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "messages go with their conversation")

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+kept.ID+"/messages", "")
	assert.Len(t, decodeBody[[]MessageResponse](t, rec), 1)

	rec = doRequest(t, gw, http.MethodDelete, "/api/conversations/"+doomed.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessages_KeepsConversation(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")
	require.Equal(t, http.StatusCreated, postMessage(t, gw, conv.ID, `{"content":"one"}`).Code)

	rec := doRequest(t, gw, http.MethodDelete, "/api/conversations/"+conv.ID+"/messages", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodDelete, "/api/conversations/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	gw := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPut, "/api/agents", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, gw, http.MethodPatch, "/api/conversations/x", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_Auth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = apiTestSecret

	gw, err := NewWithStore(cfg, store.NewMemStore(nil), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	rec := doRequest(t, gw, http.MethodGet, "/api/agents", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authorization header", decodeError(t, rec))

	rec = doRequest(t, gw, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health stays open")

	token, err := auth.NewJWTVerifier([]byte(apiTestSecret)).Generate("alice", time.Hour)
	require.NoError(t, err)

	rec = doRequest(t, gw, http.MethodGet, "/api/agents", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations", `{"title":"secured"}`, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusCreated, rec.Code)

	other, err := auth.NewJWTVerifier([]byte("some-other-secret-that-is-32-byt")).Generate("mallory", time.Hour)
	require.NoError(t, err)
	rec = doRequest(t, gw, http.MethodGet, "/api/agents", "", "Authorization", "Bearer "+other)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decodeError(t, rec))
}

func TestCreateMessage_IdempotencyKey(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")
	path := "/api/conversations/" + conv.ID + "/messages"

	first := doRequest(t, gw, http.MethodPost, path, `{"content":"once"}`, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	retry := doRequest(t, gw, http.MethodPost, path, `{"content":"once"}`, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, "true", retry.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decodeBody[MessageResponse](t, first), decodeBody[MessageResponse](t, retry))

	other := doRequest(t, gw, http.MethodPost, path, `{"content":"twice"}`, "Idempotency-Key", "retry-2")
	require.Equal(t, http.StatusCreated, other.Code)

	unkeyed := doRequest(t, gw, http.MethodPost, path, `{"content":"once"}`)
	require.Equal(t, http.StatusCreated, unkeyed.Code)

	rec := doRequest(t, gw, http.MethodGet, path, "")
	assert.Len(t, decodeBody[[]MessageResponse](t, rec), 3, "the replayed post stored nothing")

	// Keys are scoped to their conversation
	elsewhere := createConversation(t, gw, "Elsewhere")
	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+elsewhere.ID+"/messages",
		`{"content":"once"}`, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))

	rec = doRequest(t, gw, http.MethodPost, path, `{"content":"x"}`, "Idempotency-Key", strings.Repeat("k", 256))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMessage_IdempotencyKeyConcurrent(t *testing.T) {
	gw := newTestGateway(t)
	conv := createConversation(t, gw, "Chat")
	path := "/api/conversations/" + conv.ID + "/messages"

	const attempts = 10
	ids := make(chan string, attempts)
	var g errgroup.Group
	for range attempts {
		g.Go(func() error {
			rec := doRequest(t, gw, http.MethodPost, path, `{"content":"racy"}`, "Idempotency-Key", "same")
			if rec.Code != http.StatusCreated {
				return fmt.Errorf("status %d", rec.Code)
			}
			var resp MessageResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				return err
			}
			ids <- resp.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "every attempt sees the same message")

	msgs, err := gw.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestCreateMessage_IdempotencyKeysDoNotBlockEachOther(t *testing.T) {
	gw := newTestGateway(t)
	busy := createConversation(t, gw, "Busy")
	other := createConversation(t, gw, "Other")

	// Hold the key of an in-flight post on the busy conversation
	unlock := gw.replayLocks.Lock(replayCacheKey("", busy.ID, "slow"))

	done := make(chan *httptest.ResponseRecorder, 2)
	go func() {
		done <- doRequest(t, gw, http.MethodPost, "/api/conversations/"+other.ID+"/messages",
			`{"content":"elsewhere"}`, "Idempotency-Key", "fast")
	}()
	go func() {
		done <- doRequest(t, gw, http.MethodPost, "/api/conversations/"+busy.ID+"/messages",
			`{"content":"same conversation"}`, "Idempotency-Key", "other-key")
	}()

	for range 2 {
		select {
		case rec := <-done:
			assert.Equal(t, http.StatusCreated, rec.Code)
		case <-time.After(time.Second):
			unlock()
			t.Fatal("post with a different key waited on a held key")
		}
	}

	waiting := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		waiting <- doRequest(t, gw, http.MethodPost, "/api/conversations/"+busy.ID+"/messages",
			`{"content":"slow"}`, "Idempotency-Key", "slow")
	}()

	select {
	case <-waiting:
		t.Fatal("post with a held key did not wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case rec := <-waiting:
		assert.Equal(t, http.StatusCreated, rec.Code)
	case <-time.After(time.Second):
		t.Fatal("post never ran after the key was released")
	}
	assert.Equal(t, 0, gw.replayLocks.Len())
}
