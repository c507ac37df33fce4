// Package store provides storage for coven-chat agents, conversations and
// messages.
//
// # Architecture
//
// All storage goes through the Repository interface. Two backends
// implement it with identical observable behaviour:
//
//   - MemStore: three maps under one sync.RWMutex (default)
//   - SQLiteStore: SQLite via modernc.org/sqlite or mattn/go-sqlite3
//
// Open picks a backend from Options, which mirrors the store section of
// the config file.
//
// # Data Models
//
//   - Agent: chatbot persona; three defaults are seeded on construction
//   - Conversation: thread of messages, UpdatedAt tracks last activity
//   - Message: user- or agent-authored content in one conversation
//
// Callers pass insert shapes (InsertAgent, InsertConversation,
// InsertMessage). IDs, timestamps and the default flag are always
// assigned by the store.
//
// # Ordering
//
// ListAgents and ListMessages return oldest first; ListConversations
// returns the most recently active first. Each store stamps records from
// a monotonic clock, so records created later always sort later.
//
// # Default Agents
//
// "assistant", "researcher" and "coder" exist in every store. DeleteAgent
// silently ignores them, as it ignores unknown IDs.
//
// # Cascades
//
// DeleteConversation removes the conversation and all of its messages as
// one unit (one lock hold, or one SQL transaction). CreateMessage stores
// the message and bumps the conversation's UpdatedAt the same way. The
// conversation referenced by a message is not required to exist.
//
// # Error Handling
//
// Not-found is reported through the bool result of GetAgent and
// GetConversation, never as an error. Errors are only returned when the
// backend fails (SQLite I/O, closed database).
//
// # Testing
//
// Use NewMemStore(nil) for unit tests of consumers:
//
//	repo := store.NewMemStore(nil)
//
// Use NewSQLiteStore(store.DriverModernc, store.MemoryPath, nil) to exercise
// the SQL backend without touching disk.
package store
