// ABOUTME: In-memory Repository backed by three maps under one lock
// ABOUTME: Default backend; data lives for the process lifetime only

package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemStore is the in-memory Repository implementation.
// A single RWMutex guards all three maps so cascades and timestamp bumps
// are observed as one unit.
type MemStore struct {
	mu            sync.RWMutex
	agents        map[string]*Agent        // keyed by agent ID
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string]*Message      // keyed by message ID
	clock         *clock
	logger        *slog.Logger
}

// NewMemStore creates a MemStore seeded with the default agents.
// A nil logger falls back to slog.Default().
func NewMemStore(logger *slog.Logger) *MemStore {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MemStore{
		agents:        make(map[string]*Agent),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		clock:         newClock(),
		logger:        logger.With("component", "store", "backend", "memory"),
	}
	for _, a := range seedAgents(m.clock.Next) {
		m.agents[a.ID] = a
	}
	return m
}

// ListAgents returns all agents, oldest first.
func (m *MemStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agentCopy := *a
		agents = append(agents, &agentCopy)
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// GetAgent retrieves an agent by ID.
func (m *MemStore) GetAgent(ctx context.Context, id string) (*Agent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, false, nil
	}
	result := *a
	return &result, true, nil
}

// CreateAgent stores a new, deletable agent.
func (m *MemStore) CreateAgent(ctx context.Context, in InsertAgent) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := &Agent{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Role:        in.Role,
		Description: in.Description,
		Color:       in.Color,
		Avatar:      in.Avatar,
		IsDefault:   false,
		CreatedAt:   m.clock.Next(),
	}
	m.agents[a.ID] = a

	m.logger.Debug("created agent", "id", a.ID, "name", a.Name)
	result := *a
	return &result, nil
}

// DeleteAgent removes a non-default agent. Unknown IDs and default
// agents are left alone.
func (m *MemStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok || a.IsDefault {
		return nil
	}
	delete(m.agents, id)

	m.logger.Debug("deleted agent", "id", id)
	return nil
}

// ListConversations returns all conversations, most recently active first.
func (m *MemStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convCopy := *c
		convs = append(convs, &convCopy)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemStore) GetConversation(ctx context.Context, id string) (*Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, false, nil
	}
	result := *c
	return &result, true, nil
}

// CreateConversation stores a new conversation with CreatedAt == UpdatedAt.
func (m *MemStore) CreateConversation(ctx context.Context, in InsertConversation) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Next()
	c := &Conversation{
		ID:        uuid.New().String(),
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[c.ID] = c

	m.logger.Debug("created conversation", "id", c.ID)
	result := *c
	return &result, nil
}

// DeleteConversation removes the conversation and every message in it.
func (m *MemStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conversations, id)
	removed := m.deleteMessagesLocked(id)

	m.logger.Debug("deleted conversation", "id", id, "messages", removed)
	return nil
}

// ListMessages returns the messages of a conversation, oldest first.
func (m *MemStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]*Message, 0)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg.clone())
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// CreateMessage stores a message and moves its conversation's UpdatedAt
// to the message time. The conversation is not required to exist.
func (m *MemStore) CreateMessage(ctx context.Context, in InsertMessage) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agentID, isUser := in.resolve()
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		AgentID:        agentID,
		IsUser:         isUser,
		Content:        in.Content,
		CreatedAt:      m.clock.Next(),
	}
	m.messages[msg.ID] = msg

	if c, ok := m.conversations[in.ConversationID]; ok {
		c.UpdatedAt = msg.CreatedAt
	}

	m.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "is_user", isUser)
	return msg.clone(), nil
}

// DeleteMessages clears a conversation's history and keeps the conversation.
func (m *MemStore) DeleteMessages(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.deleteMessagesLocked(conversationID)
	m.logger.Debug("deleted messages", "conversation_id", conversationID, "count", removed)
	return nil
}

// deleteMessagesLocked removes every message of the conversation.
// Caller must hold m.mu for writing.
func (m *MemStore) deleteMessagesLocked(conversationID string) int {
	removed := 0
	for id, msg := range m.messages {
		if msg.ConversationID == conversationID {
			delete(m.messages, id)
			removed++
		}
	}
	return removed
}

// Close is a no-op; the maps are garbage collected with the store.
func (m *MemStore) Close() error {
	return nil
}

// Ensure MemStore implements Repository interface
var _ Repository = (*MemStore)(nil)
