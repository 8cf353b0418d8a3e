package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/notify"
)

// UpsertTag inserts or rewrites a tag keyed by id, following the precedence
// invariant. New rows start as pending_insert with revision 0.
func (s *Store) UpsertTag(userID, id, name string, color models.TagColor) (*models.Tag, error) {
	now := time.Now().UTC()

	cur, err := s.GetTag(id)
	if err != nil {
		return nil, err
	}

	if cur == nil {
		t := &models.Tag{
			ID:         id,
			UserID:     userID,
			Name:       name,
			Color:      color,
			Revision:   0,
			SyncStatus: models.StatusPendingInsert,
			CreatedAt:  now,
			ModifiedAt: now,
		}
		_, err := s.conn.Exec(`
			INSERT INTO tags (id, user_id, name, color, revision, sync_status, created_at, modified_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		`, id, userID, name, color, t.SyncStatus, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert tag: %w", err)
		}
		s.changed(notify.FamilyTags)
		return t, nil
	}

	next := statusOnWrite(cur.SyncStatus)
	_, err = s.conn.Exec(`
		UPDATE tags SET name = ?, color = ?, sync_status = ?, modified_at = ?
		WHERE id = ?
	`, name, color, next, now, id)
	if err != nil {
		return nil, fmt.Errorf("update tag: %w", err)
	}

	cur.Name = name
	cur.Color = color
	cur.SyncStatus = next
	cur.ModifiedAt = now
	s.changed(notify.FamilyTags)
	return cur, nil
}

// MarkTagDeleted flags a tag for remote deletion. Its entry-tag links are
// left in place and become orphans for the sync pass to clean up.
func (s *Store) MarkTagDeleted(id string) error {
	res, err := s.conn.Exec(`
		UPDATE tags SET sync_status = ?, modified_at = ? WHERE id = ?
	`, models.StatusPendingDelete, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark tag deleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.changed(notify.FamilyTags)
	}
	return nil
}

// TagPatch is a typed partial update for tags; only set fields apply.
type TagPatch struct {
	Name       *string
	Color      *models.TagColor
	Revision   *int64
	Status     *models.SyncStatus
	ModifiedAt *time.Time
}

// PatchTag applies the set fields of p to one tag.
func (s *Store) PatchTag(id string, p TagPatch) error {
	var sets []string
	var args []interface{}

	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *p.Color)
	}
	if p.Revision != nil {
		sets = append(sets, "revision = ?")
		args = append(args, *p.Revision)
	}
	if p.Status != nil {
		cur, err := s.GetTag(id)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("tag not found: %s", id)
		}
		st := guardStatus(cur.SyncStatus, *p.Status)
		sets = append(sets, "sync_status = ?")
		args = append(args, st)
		if st.Pending() {
			defer s.changed(notify.FamilyTags)
		}
	}
	if p.ModifiedAt != nil {
		sets = append(sets, "modified_at = ?")
		args = append(args, p.ModifiedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	_, err := s.conn.Exec("UPDATE tags SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("patch tag: %w", err)
	}
	return nil
}

// MarkTagSynced confirms a pushed tag, conditional on the row still being in
// the state that was pushed.
func (s *Store) MarkTagSynced(id string, revision int64, from models.SyncStatus) (bool, error) {
	res, err := s.conn.Exec(`
		UPDATE tags SET revision = ?, sync_status = ? WHERE id = ? AND sync_status = ?
	`, revision, models.StatusSynced, id, from)
	if err != nil {
		return false, fmt.Errorf("mark tag synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdoptTag overwrites the local tag verbatim with a remote copy, synced.
func (s *Store) AdoptTag(t *models.Tag) error {
	_, err := s.conn.Exec(`
		INSERT INTO tags (id, user_id, name, color, revision, sync_status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			color = excluded.color,
			revision = excluded.revision,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at
	`, t.ID, t.UserID, t.Name, t.Color, t.Revision, models.StatusSynced, t.CreatedAt.UTC(), t.ModifiedAt.UTC())
	if err != nil {
		return fmt.Errorf("adopt tag: %w", err)
	}
	return nil
}

// DeleteTag purges a tag row. Links referencing it become orphans.
func (s *Store) DeleteTag(id string) error {
	_, err := s.conn.Exec(`DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// GetTag retrieves one tag, or nil when absent.
func (s *Store) GetTag(id string) (*models.Tag, error) {
	row := s.conn.QueryRow(`
		SELECT id, user_id, name, color, revision, sync_status, created_at, modified_at
		FROM tags WHERE id = ?
	`, id)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTagsByStatus returns a user's tags in one sync state.
func (s *Store) ListTagsByStatus(userID string, status models.SyncStatus) ([]models.Tag, error) {
	return s.queryTags(`
		SELECT id, user_id, name, color, revision, sync_status, created_at, modified_at
		FROM tags WHERE user_id = ? AND sync_status = ? ORDER BY created_at, id
	`, userID, status)
}

// ActiveTags returns all of a user's tags except those awaiting deletion,
// ordered by name.
func (s *Store) ActiveTags(userID string) ([]models.Tag, error) {
	return s.queryTags(`
		SELECT id, user_id, name, color, revision, sync_status, created_at, modified_at
		FROM tags WHERE user_id = ? AND sync_status != ? ORDER BY name, id
	`, userID, models.StatusPendingDelete)
}

func (s *Store) queryTags(query string, args ...interface{}) ([]models.Tag, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}

func scanTag(r rowScanner) (*models.Tag, error) {
	var t models.Tag
	if err := r.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.Revision, &t.SyncStatus, &t.CreatedAt, &t.ModifiedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
