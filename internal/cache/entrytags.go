package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/notify"
)

// UpsertEntryTag links a tag to a day (or rewrites its position), following
// the precedence invariant. Untag-then-retag before a sync pass lands as
// pending_update, not a fresh insert.
func (s *Store) UpsertEntryTag(userID string, day models.Day, tagID string, orderNo int) (*models.EntryTag, error) {
	now := time.Now().UTC()

	cur, err := s.GetEntryTag(userID, day, tagID)
	if err != nil {
		return nil, err
	}

	if cur == nil {
		et := &models.EntryTag{
			UserID:     userID,
			Day:        day,
			TagID:      tagID,
			OrderNo:    orderNo,
			Revision:   0,
			SyncStatus: models.StatusPendingInsert,
			CreatedAt:  now,
			ModifiedAt: now,
		}
		_, err := s.conn.Exec(`
			INSERT INTO entry_tags (user_id, day, tag_id, order_no, revision, sync_status, created_at, modified_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		`, userID, string(day), tagID, orderNo, et.SyncStatus, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert entry tag: %w", err)
		}
		s.changed(notify.FamilyTags)
		return et, nil
	}

	next := statusOnWrite(cur.SyncStatus)
	_, err = s.conn.Exec(`
		UPDATE entry_tags SET order_no = ?, sync_status = ?, modified_at = ?
		WHERE user_id = ? AND day = ? AND tag_id = ?
	`, orderNo, next, now, userID, string(day), tagID)
	if err != nil {
		return nil, fmt.Errorf("update entry tag: %w", err)
	}

	cur.OrderNo = orderNo
	cur.SyncStatus = next
	cur.ModifiedAt = now
	s.changed(notify.FamilyTags)
	return cur, nil
}

// MarkEntryTagDeleted flags a link for remote deletion.
func (s *Store) MarkEntryTagDeleted(userID string, day models.Day, tagID string) error {
	res, err := s.conn.Exec(`
		UPDATE entry_tags SET sync_status = ?, modified_at = ?
		WHERE user_id = ? AND day = ? AND tag_id = ?
	`, models.StatusPendingDelete, time.Now().UTC(), userID, string(day), tagID)
	if err != nil {
		return fmt.Errorf("mark entry tag deleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.changed(notify.FamilyTags)
	}
	return nil
}

// EntryTagPatch is a typed partial update for links; only set fields apply.
type EntryTagPatch struct {
	OrderNo    *int
	Revision   *int64
	Status     *models.SyncStatus
	ModifiedAt *time.Time
}

// PatchEntryTag applies the set fields of p to one link.
func (s *Store) PatchEntryTag(userID string, day models.Day, tagID string, p EntryTagPatch) error {
	var sets []string
	var args []interface{}

	if p.OrderNo != nil {
		sets = append(sets, "order_no = ?")
		args = append(args, *p.OrderNo)
	}
	if p.Revision != nil {
		sets = append(sets, "revision = ?")
		args = append(args, *p.Revision)
	}
	if p.Status != nil {
		cur, err := s.GetEntryTag(userID, day, tagID)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("entry tag not found: %s/%s/%s", userID, day, tagID)
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

	args = append(args, userID, string(day), tagID)
	_, err := s.conn.Exec(
		"UPDATE entry_tags SET "+strings.Join(sets, ", ")+" WHERE user_id = ? AND day = ? AND tag_id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("patch entry tag: %w", err)
	}
	return nil
}

// MarkEntryTagSynced confirms a pushed link, conditional on the row still
// being in the state that was pushed.
func (s *Store) MarkEntryTagSynced(userID string, day models.Day, tagID string, revision int64, from models.SyncStatus) (bool, error) {
	res, err := s.conn.Exec(`
		UPDATE entry_tags SET revision = ?, sync_status = ?
		WHERE user_id = ? AND day = ? AND tag_id = ? AND sync_status = ?
	`, revision, models.StatusSynced, userID, string(day), tagID, from)
	if err != nil {
		return false, fmt.Errorf("mark entry tag synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdoptEntryTag overwrites the local link verbatim with a remote copy, synced.
func (s *Store) AdoptEntryTag(et *models.EntryTag) error {
	_, err := s.conn.Exec(`
		INSERT INTO entry_tags (user_id, day, tag_id, order_no, revision, sync_status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day, tag_id) DO UPDATE SET
			order_no = excluded.order_no,
			revision = excluded.revision,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at
	`, et.UserID, string(et.Day), et.TagID, et.OrderNo, et.Revision, models.StatusSynced, et.CreatedAt.UTC(), et.ModifiedAt.UTC())
	if err != nil {
		return fmt.Errorf("adopt entry tag: %w", err)
	}
	return nil
}

// DeleteEntryTag purges one link.
func (s *Store) DeleteEntryTag(userID string, day models.Day, tagID string) error {
	_, err := s.conn.Exec(`
		DELETE FROM entry_tags WHERE user_id = ? AND day = ? AND tag_id = ?
	`, userID, string(day), tagID)
	if err != nil {
		return fmt.Errorf("delete entry tag: %w", err)
	}
	return nil
}

// GetEntryTag retrieves one link, or nil when absent.
func (s *Store) GetEntryTag(userID string, day models.Day, tagID string) (*models.EntryTag, error) {
	row := s.conn.QueryRow(`
		SELECT user_id, day, tag_id, order_no, revision, sync_status, created_at, modified_at
		FROM entry_tags WHERE user_id = ? AND day = ? AND tag_id = ?
	`, userID, string(day), tagID)
	et, err := scanEntryTag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return et, nil
}

// ListEntryTagsByStatus returns a user's links in one sync state.
func (s *Store) ListEntryTagsByStatus(userID string, status models.SyncStatus) ([]models.EntryTag, error) {
	return s.queryEntryTags(`
		SELECT user_id, day, tag_id, order_no, revision, sync_status, created_at, modified_at
		FROM entry_tags WHERE user_id = ? AND sync_status = ? ORDER BY day, order_no
	`, userID, status)
}

// ActiveEntryTags returns all of a user's links except those awaiting
// deletion, ordered by day then position.
func (s *Store) ActiveEntryTags(userID string) ([]models.EntryTag, error) {
	return s.queryEntryTags(`
		SELECT user_id, day, tag_id, order_no, revision, sync_status, created_at, modified_at
		FROM entry_tags WHERE user_id = ? AND sync_status != ? ORDER BY day, order_no
	`, userID, models.StatusPendingDelete)
}

// EntryTagsForDay returns the active links of one day, ordered by position.
func (s *Store) EntryTagsForDay(userID string, day models.Day) ([]models.EntryTag, error) {
	return s.queryEntryTags(`
		SELECT user_id, day, tag_id, order_no, revision, sync_status, created_at, modified_at
		FROM entry_tags WHERE user_id = ? AND day = ? AND sync_status != ? ORDER BY order_no
	`, userID, string(day), models.StatusPendingDelete)
}

// DaysForTag returns the days currently linked to a tag, deleted or not.
// The sync pass uses this to know which days to repaint after a tag changes.
func (s *Store) DaysForTag(tagID string) ([]models.Day, error) {
	rows, err := s.conn.Query(`SELECT day FROM entry_tags WHERE tag_id = ? ORDER BY day`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.Day
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, models.Day(d))
	}
	return days, rows.Err()
}

// OrphanEntryTags returns links whose tag no longer exists locally. A tag
// purge leaves these behind.
func (s *Store) OrphanEntryTags(userID string) ([]models.EntryTag, error) {
	return s.queryEntryTags(`
		SELECT et.user_id, et.day, et.tag_id, et.order_no, et.revision, et.sync_status, et.created_at, et.modified_at
		FROM entry_tags et
		WHERE et.user_id = ?
		  AND NOT EXISTS (SELECT 1 FROM tags t WHERE t.id = et.tag_id)
	`, userID)
}

// EntrylessEntryTags returns links whose entry row is absent locally. An
// absent entry does not by itself make the link an orphan: it may simply not
// have been pulled yet, since entries and tags sync on independent cycles.
// Only a crash between the two cascade statements in DeleteEntry leaves a
// true orphan here.
func (s *Store) EntrylessEntryTags(userID string) ([]models.EntryTag, error) {
	return s.queryEntryTags(`
		SELECT et.user_id, et.day, et.tag_id, et.order_no, et.revision, et.sync_status, et.created_at, et.modified_at
		FROM entry_tags et
		WHERE et.user_id = ?
		  AND NOT EXISTS (SELECT 1 FROM entries e WHERE e.user_id = et.user_id AND e.day = et.day)
	`, userID)
}

func (s *Store) queryEntryTags(query string, args ...interface{}) ([]models.EntryTag, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.EntryTag
	for rows.Next() {
		et, err := scanEntryTag(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *et)
	}
	return links, rows.Err()
}

func scanEntryTag(r rowScanner) (*models.EntryTag, error) {
	var et models.EntryTag
	var day string
	if err := r.Scan(&et.UserID, &day, &et.TagID, &et.OrderNo, &et.Revision, &et.SyncStatus, &et.CreatedAt, &et.ModifiedAt); err != nil {
		return nil, err
	}
	et.Day = models.Day(day)
	return &et, nil
}
