// Package cache is the embedded local store for journal entries, tags and
// entry-tag links. Rows carry a sync_status and revision so the sync engine
// can reconcile them against the remote store; the cache itself never talks
// to the network.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/daybook/internal/notify"
	_ "modernc.org/sqlite"
)

const dbFile = "daybook.db"

// Store wraps the database connection.
type Store struct {
	conn *sql.DB
	hub  *notify.Hub
}

// Option configures a Store.
type Option func(*Store)

// WithHub wires a notification hub; mutations that leave a row in a
// pending state publish the row's entity family on it.
func WithHub(h *notify.Hub) Option {
	return func(s *Store) { s.hub = h }
}

// Open opens (creating if necessary) the cache database under baseDir and
// applies schema migrations. A stored schema version newer than this binary
// supports returns ErrSchemaDowngrade; callers must treat that as fatal.
func Open(baseDir string, opts ...Option) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	s := &Store{conn: conn}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// changed publishes a family on the hub, if one is wired.
func (s *Store) changed(f notify.Family) {
	if s.hub != nil {
		s.hub.Changed(f)
	}
}

// PurgeUser removes every row belonging to a user. Used on forced sign-out.
func (s *Store) PurgeUser(userID string) error {
	for _, table := range []string{"entry_tags", "entries", "tags"} {
		if _, err := s.conn.Exec(fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", table), userID); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}
