// ABOUTME: SQLite implementation of the Repository interface
// ABOUTME: Same contract as MemStore; cascades and message inserts run in transactions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQL driver names accepted by NewSQLiteStore.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// MemoryPath opens a database that lives as long as the store.
const MemoryPath = ":memory:"

// SQLiteStore implements the Repository interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	clock  *clock
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path with the given
// driver, creates the schema and inserts any missing default agents.
// Parent directories are created if needed. A nil logger falls back to
// slog.Default().
func NewSQLiteStore(driver, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "backend", "sqlite")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers, and keeps a :memory: database
	// shared instead of one per pooled connection.
	db.SetMaxOpenConns(1)

	if path != MemoryPath {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		clock:  newClock(),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.restoreClock(); err != nil {
		db.Close()
		return nil, fmt.Errorf("restoring clock: %w", err)
	}

	if err := s.seedDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding default agents: %w", err)
	}

	logger.Info("SQLite store initialized", "driver", driver, "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// messages.conversation_id has no foreign key: dangling messages are allowed.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			role        TEXT NOT NULL,
			description TEXT NOT NULL,
			color       TEXT NOT NULL,
			avatar      TEXT NOT NULL,
			is_default  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_id        TEXT,
			is_user         INTEGER NOT NULL DEFAULT 0,
			content         TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// restoreClock moves the clock past every stamp already on disk so new
// records still sort after old ones.
func (s *SQLiteStore) restoreClock() error {
	query := `
		SELECT MAX(ts) FROM (
			SELECT MAX(created_at) AS ts FROM agents
			UNION ALL SELECT MAX(updated_at) FROM conversations
			UNION ALL SELECT MAX(created_at) FROM messages
		)
	`
	var latest sql.NullInt64
	if err := s.db.QueryRow(query).Scan(&latest); err != nil {
		return err
	}
	if latest.Valid {
		s.clock.last = fromNanos(latest.Int64)
	}
	return nil
}

// seedDefaults inserts the default agents that are not present yet.
func (s *SQLiteStore) seedDefaults() error {
	query := `
		INSERT OR IGNORE INTO agents (id, name, role, description, color, avatar, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`
	for _, a := range seedAgents(s.clock.Next) {
		if _, err := s.db.Exec(query, a.ID, a.Name, a.Role, a.Description, a.Color, a.Avatar, toNanos(a.CreatedAt)); err != nil {
			return fmt.Errorf("inserting %s: %w", a.ID, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var createdAt int64
	if err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Description, &a.Color, &a.Avatar, &a.IsDefault, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = fromNanos(createdAt)
	return &a, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var createdAt, updatedAt int64
	if err := row.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return &c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var agentID sql.NullString
	var createdAt int64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &agentID, &msg.IsUser, &msg.Content, &createdAt); err != nil {
		return nil, err
	}
	if agentID.Valid {
		msg.AgentID = &agentID.String
	}
	msg.CreatedAt = fromNanos(createdAt)
	return &msg, nil
}

// ListAgents returns all agents, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	query := `
		SELECT id, name, role, description, color, avatar, is_default, created_at
		FROM agents
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, bool, error) {
	query := `
		SELECT id, name, role, description, color, avatar, is_default, created_at
		FROM agents
		WHERE id = ?
	`

	a, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying agent: %w", err)
	}
	return a, true, nil
}

// CreateAgent stores a new, deletable agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, in InsertAgent) (*Agent, error) {
	a := &Agent{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Role:        in.Role,
		Description: in.Description,
		Color:       in.Color,
		Avatar:      in.Avatar,
		IsDefault:   false,
		CreatedAt:   s.clock.Next(),
	}

	query := `
		INSERT INTO agents (id, name, role, description, color, avatar, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`
	_, err := s.db.ExecContext(ctx, query, a.ID, a.Name, a.Role, a.Description, a.Color, a.Avatar, toNanos(a.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", a.ID, "name", a.Name)
	return a, nil
}

// DeleteAgent removes a non-default agent. Unknown IDs and default
// agents are left alone.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND is_default = 0`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		s.logger.Debug("deleted agent", "id", id)
	}
	return nil
}

// ListConversations returns all conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]*Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, bool, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying conversation: %w", err)
	}
	return c, true, nil
}

// CreateConversation stores a new conversation with CreatedAt == UpdatedAt.
func (s *SQLiteStore) CreateConversation(ctx context.Context, in InsertConversation) (*Conversation, error) {
	now := s.clock.Next()
	c := &Conversation{
		ID:        uuid.New().String(),
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Title, toNanos(now), toNanos(now)); err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID)
	return c, nil
}

// DeleteConversation removes the conversation and every message in it
// within one transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		removed, _ = result.RowsAffected()

		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("deleted conversation", "id", id, "messages", removed)
	return nil
}

// ListMessages returns the messages of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, agent_id, is_user, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

// CreateMessage stores a message and moves its conversation's UpdatedAt
// to the message time in the same transaction. A missing conversation
// is not an error.
func (s *SQLiteStore) CreateMessage(ctx context.Context, in InsertMessage) (*Message, error) {
	agentID, isUser := in.resolve()
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		AgentID:        agentID,
		IsUser:         isUser,
		Content:        in.Content,
		CreatedAt:      s.clock.Next(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO messages (id, conversation_id, agent_id, is_user, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			msg.ID,
			msg.ConversationID,
			nullString(msg.AgentID),
			msg.IsUser,
			msg.Content,
			toNanos(msg.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		// MAX keeps updated_at from moving back when inserts commit out of stamp order
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
			toNanos(msg.CreatedAt), msg.ConversationID); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "is_user", isUser)
	return msg, nil
}

// DeleteMessages clears a conversation's history and keeps the conversation.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, conversationID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	n, _ := result.RowsAffected()
	s.logger.Debug("deleted messages", "conversation_id", conversationID, "count", n)
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// nullString returns nil for a nil pointer, otherwise the string
func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Ensure SQLiteStore implements Repository interface
var _ Repository = (*SQLiteStore)(nil)
