package cache

import (
	"database/sql"

	"github.com/marcus/daybook/internal/models"
)

// statusOnWrite decides the sync_status after a local content write.
// A row still marked pending_insert has never reached the remote store, so
// it stays an insert; a write over pending_delete is a resurrection and
// becomes pending_update, never a fresh insert.
func statusOnWrite(cur models.SyncStatus) models.SyncStatus {
	switch cur {
	case models.StatusPendingInsert:
		return models.StatusPendingInsert
	case models.StatusPendingDelete:
		return models.StatusPendingUpdate
	default:
		return models.StatusPendingUpdate
	}
}

// guardStatus applies the precedence invariant to an explicit sync_status
// patch: pending_insert is never downgraded to pending_update, and a create
// over pending_delete is reinterpreted as pending_update.
func guardStatus(cur, requested models.SyncStatus) models.SyncStatus {
	switch {
	case requested == models.StatusPendingUpdate && cur == models.StatusPendingInsert:
		return models.StatusPendingInsert
	case requested == models.StatusPendingInsert && cur == models.StatusPendingDelete:
		return models.StatusPendingUpdate
	default:
		return requested
	}
}

// columnExists checks whether a column exists on a table.
func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.conn.Query("PRAGMA table_info(" + table + ");")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}

	return false, rows.Err()
}
