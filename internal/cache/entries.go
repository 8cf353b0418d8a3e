package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/notify"
)

// UpsertEntry writes content for a day, creating the row on first edit.
// The resulting sync_status follows the precedence invariant; the returned
// entry reflects the stored row.
func (s *Store) UpsertEntry(userID string, day models.Day, content json.RawMessage) (*models.Entry, error) {
	if len(content) == 0 {
		content = json.RawMessage("{}")
	}
	now := time.Now().UTC()

	cur, err := s.GetEntry(userID, day)
	if err != nil {
		return nil, err
	}

	if cur == nil {
		e := &models.Entry{
			UserID:     userID,
			Day:        day,
			Content:    content,
			Revision:   0,
			SyncStatus: models.StatusPendingInsert,
			CreatedAt:  now,
			ModifiedAt: now,
		}
		_, err := s.conn.Exec(`
			INSERT INTO entries (user_id, day, content, iv, revision, sync_status, created_at, modified_at)
			VALUES (?, ?, ?, '', 0, ?, ?, ?)
		`, userID, string(day), string(content), e.SyncStatus, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert entry: %w", err)
		}
		s.changed(notify.FamilyEntries)
		return e, nil
	}

	next := statusOnWrite(cur.SyncStatus)
	_, err = s.conn.Exec(`
		UPDATE entries SET content = ?, sync_status = ?, modified_at = ?
		WHERE user_id = ? AND day = ?
	`, string(content), next, now, userID, string(day))
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}

	cur.Content = content
	cur.SyncStatus = next
	cur.ModifiedAt = now
	s.changed(notify.FamilyEntries)
	return cur, nil
}

// MarkEntryDeleted flags a day for remote deletion. Reachable from any
// state; a no-op when the row does not exist.
func (s *Store) MarkEntryDeleted(userID string, day models.Day) error {
	res, err := s.conn.Exec(`
		UPDATE entries SET sync_status = ?, modified_at = ?
		WHERE user_id = ? AND day = ?
	`, models.StatusPendingDelete, time.Now().UTC(), userID, string(day))
	if err != nil {
		return fmt.Errorf("mark entry deleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.changed(notify.FamilyEntries)
	}
	return nil
}

// EntryPatch is a typed partial update; only set fields apply. Status
// changes pass through the precedence guard.
type EntryPatch struct {
	Content    *json.RawMessage
	IV         *string
	Revision   *int64
	Status     *models.SyncStatus
	ModifiedAt *time.Time
}

// PatchEntry applies the set fields of p to one row.
func (s *Store) PatchEntry(userID string, day models.Day, p EntryPatch) error {
	var sets []string
	var args []interface{}

	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, string(*p.Content))
	}
	if p.IV != nil {
		sets = append(sets, "iv = ?")
		args = append(args, *p.IV)
	}
	if p.Revision != nil {
		sets = append(sets, "revision = ?")
		args = append(args, *p.Revision)
	}
	if p.Status != nil {
		cur, err := s.GetEntry(userID, day)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("entry not found: %s/%s", userID, day)
		}
		st := guardStatus(cur.SyncStatus, *p.Status)
		sets = append(sets, "sync_status = ?")
		args = append(args, st)
		if st.Pending() {
			defer s.changed(notify.FamilyEntries)
		}
	}
	if p.ModifiedAt != nil {
		sets = append(sets, "modified_at = ?")
		args = append(args, p.ModifiedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID, string(day))
	_, err := s.conn.Exec(
		"UPDATE entries SET "+strings.Join(sets, ", ")+" WHERE user_id = ? AND day = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("patch entry: %w", err)
	}
	return nil
}

// MarkEntrySynced confirms a pushed row: revision and nonce are adopted and
// the status flips to synced, conditional on the row still being in the
// state that was pushed. Returns false when a concurrent local write moved
// the row on (it stays pending for the next pass).
func (s *Store) MarkEntrySynced(userID string, day models.Day, revision int64, iv string, from models.SyncStatus) (bool, error) {
	res, err := s.conn.Exec(`
		UPDATE entries SET revision = ?, iv = ?, sync_status = ?
		WHERE user_id = ? AND day = ? AND sync_status = ?
	`, revision, iv, models.StatusSynced, userID, string(day), from)
	if err != nil {
		return false, fmt.Errorf("mark entry synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdoptEntry overwrites the local row verbatim with a remote copy and marks
// it synced. Used by pulls and by remote-wins conflict resolution.
func (s *Store) AdoptEntry(e *models.Entry, iv string) error {
	_, err := s.conn.Exec(`
		INSERT INTO entries (user_id, day, content, iv, revision, sync_status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET
			content = excluded.content,
			iv = excluded.iv,
			revision = excluded.revision,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at
	`, e.UserID, string(e.Day), string(e.Content), iv, e.Revision, models.StatusSynced, e.CreatedAt.UTC(), e.ModifiedAt.UTC())
	if err != nil {
		return fmt.Errorf("adopt entry: %w", err)
	}
	return nil
}

// DeleteEntry purges a row and cascades its entry-tag links. The two
// statements are not transactional; a crash in between leaves orphaned
// links, which the tag sync pass cleans up.
func (s *Store) DeleteEntry(userID string, day models.Day) error {
	if _, err := s.conn.Exec(`DELETE FROM entry_tags WHERE user_id = ? AND day = ?`, userID, string(day)); err != nil {
		return fmt.Errorf("cascade entry tags: %w", err)
	}
	if _, err := s.conn.Exec(`DELETE FROM entries WHERE user_id = ? AND day = ?`, userID, string(day)); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// DeleteEntryPending purges a row only while it still awaits deletion,
// cascading its links. Returns false when a concurrent local write
// resurrected the row first, leaving it untouched.
func (s *Store) DeleteEntryPending(userID string, day models.Day) (bool, error) {
	res, err := s.conn.Exec(`
		DELETE FROM entries WHERE user_id = ? AND day = ? AND sync_status = ?
	`, userID, string(day), models.StatusPendingDelete)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := s.conn.Exec(`DELETE FROM entry_tags WHERE user_id = ? AND day = ?`, userID, string(day)); err != nil {
		return true, fmt.Errorf("cascade entry tags: %w", err)
	}
	return true, nil
}

// GetEntry retrieves one row, or nil when absent.
func (s *Store) GetEntry(userID string, day models.Day) (*models.Entry, error) {
	row := s.conn.QueryRow(`
		SELECT user_id, day, content, revision, sync_status, created_at, modified_at
		FROM entries WHERE user_id = ? AND day = ?
	`, userID, string(day))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntryIV returns the stored encryption nonce for a day.
func (s *Store) GetEntryIV(userID string, day models.Day) (string, error) {
	var iv string
	err := s.conn.QueryRow(`SELECT iv FROM entries WHERE user_id = ? AND day = ?`, userID, string(day)).Scan(&iv)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return iv, err
}

// ListEntriesByStatus returns a user's rows in one sync state, ordered by day.
func (s *Store) ListEntriesByStatus(userID string, status models.SyncStatus) ([]models.Entry, error) {
	return s.queryEntries(`
		SELECT user_id, day, content, revision, sync_status, created_at, modified_at
		FROM entries WHERE user_id = ? AND sync_status = ? ORDER BY day
	`, userID, status)
}

// ActiveEntries returns all of a user's rows except those awaiting deletion,
// ordered by day.
func (s *Store) ActiveEntries(userID string) ([]models.Entry, error) {
	return s.queryEntries(`
		SELECT user_id, day, content, revision, sync_status, created_at, modified_at
		FROM entries WHERE user_id = ? AND sync_status != ? ORDER BY day
	`, userID, models.StatusPendingDelete)
}

// EntryExists reports whether any row exists for the day.
func (s *Store) EntryExists(userID string, day models.Day) (bool, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM entries WHERE user_id = ? AND day = ?`, userID, string(day)).Scan(&n)
	return n > 0, err
}

// CountEntriesSince counts a user's entries on or after the cutoff day.
// Plan-limit enforcement shares the store through this.
func (s *Store) CountEntriesSince(userID string, cutoff models.Day) (int, error) {
	var n int
	err := s.conn.QueryRow(`
		SELECT COUNT(*) FROM entries WHERE user_id = ? AND day >= ? AND sync_status != ?
	`, userID, string(cutoff), models.StatusPendingDelete).Scan(&n)
	return n, err
}

func (s *Store) queryEntries(query string, args ...interface{}) ([]models.Entry, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(r rowScanner) (*models.Entry, error) {
	var e models.Entry
	var day, content string
	if err := r.Scan(&e.UserID, &day, &content, &e.Revision, &e.SyncStatus, &e.CreatedAt, &e.ModifiedAt); err != nil {
		return nil, err
	}
	e.Day = models.Day(day)
	e.Content = json.RawMessage(content)
	return &e, nil
}
