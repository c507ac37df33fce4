// ABOUTME: Repository interface and data types for coven-chat persistence
// ABOUTME: Defines Agent, Conversation, Message records and their insert shapes

package store

import (
	"context"
	"time"
)

// Agent is a chatbot persona. Default agents are seeded by the store and
// cannot be deleted.
type Agent struct {
	ID          string
	Name        string
	Role        string
	Description string
	Color       string
	Avatar      string
	IsDefault   bool
	CreatedAt   time.Time
}

// Conversation groups an ordered sequence of messages.
// UpdatedAt moves forward every time a message is added.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single utterance by the user or by an agent.
type Message struct {
	ID             string
	ConversationID string
	AgentID        *string // nil when no agent authored or was addressed
	IsUser         bool
	Content        string
	CreatedAt      time.Time
}

// InsertAgent is the caller-supplied part of an Agent.
type InsertAgent struct {
	Name        string
	Role        string
	Description string
	Color       string
	Avatar      string
}

// InsertConversation is the caller-supplied part of a Conversation.
type InsertConversation struct {
	Title string
}

// InsertMessage is the caller-supplied part of a Message.
// Nil optional fields resolve to AgentID=nil and IsUser=false.
type InsertMessage struct {
	ConversationID string
	AgentID        *string
	IsUser         *bool
	Content        string
}

// Repository is the storage contract shared by every backend.
//
// Not-found is never an error: single-record reads report absence through
// the bool result. A non-nil error always means the backend itself failed.
type Repository interface {
	// Agents
	ListAgents(ctx context.Context) ([]*Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, bool, error)
	CreateAgent(ctx context.Context, in InsertAgent) (*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Conversations
	ListConversations(ctx context.Context) ([]*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, bool, error)
	CreateConversation(ctx context.Context, in InsertConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	CreateMessage(ctx context.Context, in InsertMessage) (*Message, error)
	DeleteMessages(ctx context.Context, conversationID string) error

	// Close releases any resources held by the store
	Close() error
}

// resolve applies the insert defaults for optional message fields.
func (in InsertMessage) resolve() (agentID *string, isUser bool) {
	if in.AgentID != nil {
		id := *in.AgentID
		agentID = &id
	}
	if in.IsUser != nil {
		isUser = *in.IsUser
	}
	return agentID, isUser
}

func (m *Message) clone() *Message {
	c := *m
	if m.AgentID != nil {
		id := *m.AgentID
		c.AgentID = &id
	}
	return &c
}

// StringPtr returns a pointer to s, for filling optional insert fields.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b, for filling optional insert fields.
func BoolPtr(b bool) *bool { return &b }
