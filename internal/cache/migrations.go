package cache

import (
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

// ErrSchemaDowngrade is returned when the stored schema version is newer
// than this binary supports. Startup must abort; the user needs to update.
var ErrSchemaDowngrade = errors.New("cache schema is newer than this version supports")

const versionKey = "schema_version"

// Migration is one ordered, idempotent upgrade step, keyed by the app
// version that introduced it. When GuardColumn is set and already present on
// GuardTable, the step is skipped (the consolidated schema of a newer fresh
// install already includes it).
type Migration struct {
	Version     string
	Description string
	SQL         string
	GuardTable  string
	GuardColumn string
}

// Migrations lists upgrade steps in ascending version order. A fresh install
// applies only the consolidated schema; upgrades run the steps between the
// detected and current version.
var Migrations = []Migration{
	{
		Version:     "v1.1.0",
		Description: "store the encryption nonce alongside each entry",
		SQL:         `ALTER TABLE entries ADD COLUMN iv TEXT NOT NULL DEFAULT ''`,
		GuardTable:  "entries",
		GuardColumn: "iv",
	},
	{
		Version:     "v1.2.0",
		Description: "ordered tags per day",
		SQL:         `ALTER TABLE entry_tags ADD COLUMN order_no INTEGER NOT NULL DEFAULT 0`,
		GuardTable:  "entry_tags",
		GuardColumn: "order_no",
	},
}

// storedVersion reads the schema version, or "" on a fresh database.
func (s *Store) storedVersion() (string, error) {
	var v string
	err := s.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, versionKey).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) setVersion(v string) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, versionKey, v)
	return err
}

// migrate brings the database to SchemaVersion. Fresh installs get the
// consolidated schema; existing databases run only the pending steps.
func (s *Store) migrate() error {
	// settings must exist before the version can be read
	if _, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}

	stored, err := s.storedVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if stored == "" {
		if _, err := s.conn.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return s.setVersion(SchemaVersion)
	}

	if !semver.IsValid(stored) {
		return fmt.Errorf("stored schema version %q is not valid", stored)
	}
	if semver.Compare(stored, SchemaVersion) > 0 {
		return fmt.Errorf("%w: stored %s, supported %s", ErrSchemaDowngrade, stored, SchemaVersion)
	}
	if semver.Compare(stored, SchemaVersion) == 0 {
		return nil
	}

	for _, m := range Migrations {
		if semver.Compare(m.Version, stored) <= 0 {
			continue
		}
		if m.GuardColumn != "" {
			exists, err := s.columnExists(m.GuardTable, m.GuardColumn)
			if err != nil {
				return fmt.Errorf("check column %s.%s: %w", m.GuardTable, m.GuardColumn, err)
			}
			if exists {
				if err := s.setVersion(m.Version); err != nil {
					return fmt.Errorf("set version %s: %w", m.Version, err)
				}
				continue
			}
		}
		if _, err := s.conn.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Description, err)
		}
		if err := s.setVersion(m.Version); err != nil {
			return fmt.Errorf("set version %s: %w", m.Version, err)
		}
	}

	return s.setVersion(SchemaVersion)
}

// GetSetting reads a process-wide setting. The second return is false when
// the key is absent.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var v string
	err := s.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting writes a process-wide setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}
