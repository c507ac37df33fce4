// Package conversation fans out live changes to conversations.
//
// The gateway publishes an Event whenever a message is stored, a
// conversation's messages are cleared, or a conversation is deleted.
// Streaming clients subscribe per conversation:
//
//	events, cancel := broadcaster.Subscribe(conversationID)
//	defer cancel()
//	for ev := range events {
//	    ...
//	}
//
// Delivery is best effort. A subscriber that falls more than 64 events
// behind misses events instead of stalling the publisher.
package conversation
