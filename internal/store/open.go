// ABOUTME: Backend selection for the Repository
// ABOUTME: Maps config values onto MemStore or SQLiteStore

package store

import (
	"fmt"
	"log/slog"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Options selects and configures a Repository backend.
type Options struct {
	Backend string // "memory" (default) or "sqlite"
	Driver  string // sqlite driver: "sqlite" (default) or "sqlite3"
	Path    string // sqlite database path; ":memory:" when empty

	// Logger receives store logs; slog.Default() when nil
	Logger *slog.Logger
}

// Open creates the Repository described by opts.
func Open(opts Options) (Repository, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemStore(opts.Logger), nil
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = MemoryPath
		}
		s, err := NewSQLiteStore(opts.Driver, path, opts.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
