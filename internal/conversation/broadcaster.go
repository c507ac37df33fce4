// ABOUTME: In-memory fan-out event broadcaster for live conversation updates
// ABOUTME: Publishes message and deletion events to every subscriber of a conversation

package conversation

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventType names what happened to a conversation.
type EventType string

const (
	EventMessageCreated      EventType = "message.created"
	EventMessagesCleared     EventType = "messages.cleared"
	EventConversationDeleted EventType = "conversation.deleted"
)

// Event is one change to a conversation. Message is set for message.created only.
type Event struct {
	Type           EventType
	ConversationID string
	Message        *store.Message
}

// EventBroadcaster provides in-memory pub/sub keyed by conversation id.
// Subscribers receive events published after they subscribed; slow
// subscribers lose events rather than blocking publishers.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // conversationID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given conversation.
// The returned cancel func unsubscribes and closes the channel; it is safe
// to call more than once. After Close, Subscribe returns a closed channel.
func (b *EventBroadcaster) Subscribe(conversationID string) (<-chan Event, func()) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	return ch, func() { b.unsubscribe(conversationID, subID) }
}

// Publish sends an event to all subscribers of its conversation.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.ConversationID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", event.ConversationID,
				"type", event.Type)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a conversation.
func (b *EventBroadcaster) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

// unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broadcaster closed")
}
