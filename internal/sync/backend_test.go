package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/daybook/internal/remote"
)

// fakeBackend implements Backend over an in-memory SQLite database so the
// conditional writes have real rows-affected semantics. Creates are upserts
// that bump the revision; updates and deletes match on revision exactly,
// like the server.
type fakeBackend struct {
	db    *sql.DB
	calls map[string]int

	// failAll, when set, is returned by every method.
	failAll error
	// failCreate, when set, is returned by the create methods only.
	failCreate error
	// onDeleteEntry, when set, runs before DeleteEntry touches the table;
	// tests use it to interleave a local write with an in-flight delete.
	onDeleteEntry func()
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open fake backend: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE entries (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		content BLOB NOT NULL,
		iv BLOB NOT NULL,
		revision INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, day)
	);
	CREATE TABLE tags (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		revision INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL
	);
	CREATE TABLE entry_tags (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		order_no INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, day, tag_id)
	);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create fake backend schema: %v", err)
	}

	return &fakeBackend{db: db, calls: map[string]int{}}
}

func (f *fakeBackend) called(name string) error {
	f.calls[name]++
	return f.failAll
}

func (f *fakeBackend) resetCalls() {
	f.calls = map[string]int{}
}

// --- entries ---

func (f *fakeBackend) ListEntryHeads(ctx context.Context, userID string) ([]remote.EntryHead, error) {
	if err := f.called("ListEntryHeads"); err != nil {
		return nil, err
	}
	rows, err := f.db.Query(`SELECT day, revision FROM entries WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var heads []remote.EntryHead
	for rows.Next() {
		var h remote.EntryHead
		if err := rows.Scan(&h.Day, &h.Revision); err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

func (f *fakeBackend) GetEntry(ctx context.Context, userID, day string) (*remote.Entry, error) {
	if err := f.called("GetEntry"); err != nil {
		return nil, err
	}
	var e remote.Entry
	err := f.db.QueryRow(`
		SELECT user_id, day, content, iv, revision, created_at, modified_at
		FROM entries WHERE user_id = ? AND day = ?
	`, userID, day).Scan(&e.UserID, &e.Day, &e.Content, &e.IV, &e.Revision, &e.CreatedAt, &e.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (f *fakeBackend) GetEntriesBatch(ctx context.Context, userID string, days []string) ([]remote.Entry, error) {
	if err := f.called("GetEntriesBatch"); err != nil {
		return nil, err
	}
	var entries []remote.Entry
	for _, day := range days {
		e, err := f.fetchEntry(userID, day)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func (f *fakeBackend) fetchEntry(userID, day string) (*remote.Entry, error) {
	var e remote.Entry
	err := f.db.QueryRow(`
		SELECT user_id, day, content, iv, revision, created_at, modified_at
		FROM entries WHERE user_id = ? AND day = ?
	`, userID, day).Scan(&e.UserID, &e.Day, &e.Content, &e.IV, &e.Revision, &e.CreatedAt, &e.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (f *fakeBackend) CreateEntry(ctx context.Context, e *remote.Entry) (*remote.Entry, error) {
	if err := f.called("CreateEntry"); err != nil {
		return nil, err
	}
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	_, err := f.db.Exec(`
		INSERT INTO entries (user_id, day, content, iv, revision, created_at, modified_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET
			content = excluded.content,
			iv = excluded.iv,
			revision = entries.revision + 1,
			modified_at = excluded.modified_at
	`, e.UserID, e.Day, e.Content, e.IV, e.CreatedAt.UTC(), e.ModifiedAt.UTC())
	if err != nil {
		return nil, err
	}
	stored, err := f.fetchEntry(e.UserID, e.Day)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (f *fakeBackend) UpdateEntry(ctx context.Context, e *remote.Entry) error {
	if err := f.called("UpdateEntry"); err != nil {
		return err
	}
	res, err := f.db.Exec(`
		UPDATE entries SET content = ?, iv = ?, revision = revision + 1, modified_at = ?
		WHERE user_id = ? AND day = ? AND revision = ?
	`, e.Content, e.IV, e.ModifiedAt.UTC(), e.UserID, e.Day, e.Revision)
	if err != nil {
		return err
	}
	return f.conditionalResult(res, `SELECT COUNT(*) FROM entries WHERE user_id = ? AND day = ?`, e.UserID, e.Day)
}

func (f *fakeBackend) DeleteEntry(ctx context.Context, userID, day string, revision int64) error {
	if err := f.called("DeleteEntry"); err != nil {
		return err
	}
	if f.onDeleteEntry != nil {
		f.onDeleteEntry()
	}
	res, err := f.db.Exec(`DELETE FROM entries WHERE user_id = ? AND day = ? AND revision = ?`, userID, day, revision)
	if err != nil {
		return err
	}
	return f.conditionalResult(res, `SELECT COUNT(*) FROM entries WHERE user_id = ? AND day = ?`, userID, day)
}

// --- tags ---

func (f *fakeBackend) ListTags(ctx context.Context, userID string) ([]remote.Tag, error) {
	if err := f.called("ListTags"); err != nil {
		return nil, err
	}
	rows, err := f.db.Query(`
		SELECT id, user_id, name, color, revision, created_at, modified_at
		FROM tags WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []remote.Tag
	for rows.Next() {
		var t remote.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.Revision, &t.CreatedAt, &t.ModifiedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (f *fakeBackend) GetTag(ctx context.Context, userID, id string) (*remote.Tag, error) {
	if err := f.called("GetTag"); err != nil {
		return nil, err
	}
	var t remote.Tag
	err := f.db.QueryRow(`
		SELECT id, user_id, name, color, revision, created_at, modified_at
		FROM tags WHERE user_id = ? AND id = ?
	`, userID, id).Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.Revision, &t.CreatedAt, &t.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (f *fakeBackend) CreateTag(ctx context.Context, tg *remote.Tag) (*remote.Tag, error) {
	if err := f.called("CreateTag"); err != nil {
		return nil, err
	}
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	_, err := f.db.Exec(`
		INSERT INTO tags (id, user_id, name, color, revision, created_at, modified_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			revision = tags.revision + 1,
			modified_at = excluded.modified_at
	`, tg.ID, tg.UserID, tg.Name, tg.Color, tg.CreatedAt.UTC(), tg.ModifiedAt.UTC())
	if err != nil {
		return nil, err
	}
	return f.GetTag(ctx, tg.UserID, tg.ID)
}

func (f *fakeBackend) UpdateTag(ctx context.Context, tg *remote.Tag) error {
	if err := f.called("UpdateTag"); err != nil {
		return err
	}
	res, err := f.db.Exec(`
		UPDATE tags SET name = ?, color = ?, revision = revision + 1, modified_at = ?
		WHERE user_id = ? AND id = ? AND revision = ?
	`, tg.Name, tg.Color, tg.ModifiedAt.UTC(), tg.UserID, tg.ID, tg.Revision)
	if err != nil {
		return err
	}
	return f.conditionalResult(res, `SELECT COUNT(*) FROM tags WHERE user_id = ? AND id = ?`, tg.UserID, tg.ID)
}

func (f *fakeBackend) DeleteTag(ctx context.Context, userID, id string, revision int64) error {
	if err := f.called("DeleteTag"); err != nil {
		return err
	}
	res, err := f.db.Exec(`DELETE FROM tags WHERE user_id = ? AND id = ? AND revision = ?`, userID, id, revision)
	if err != nil {
		return err
	}
	return f.conditionalResult(res, `SELECT COUNT(*) FROM tags WHERE user_id = ? AND id = ?`, userID, id)
}

// --- entry tags ---

func (f *fakeBackend) ListEntryTags(ctx context.Context, userID string) ([]remote.EntryTag, error) {
	if err := f.called("ListEntryTags"); err != nil {
		return nil, err
	}
	rows, err := f.db.Query(`
		SELECT user_id, day, tag_id, order_no, revision, created_at, modified_at
		FROM entry_tags WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []remote.EntryTag
	for rows.Next() {
		var et remote.EntryTag
		if err := rows.Scan(&et.UserID, &et.Day, &et.TagID, &et.OrderNo, &et.Revision, &et.CreatedAt, &et.ModifiedAt); err != nil {
			return nil, err
		}
		links = append(links, et)
	}
	return links, rows.Err()
}

func (f *fakeBackend) GetEntryTag(ctx context.Context, userID, day, tagID string) (*remote.EntryTag, error) {
	if err := f.called("GetEntryTag"); err != nil {
		return nil, err
	}
	var et remote.EntryTag
	err := f.db.QueryRow(`
		SELECT user_id, day, tag_id, order_no, revision, created_at, modified_at
		FROM entry_tags WHERE user_id = ? AND day = ? AND tag_id = ?
	`, userID, day, tagID).Scan(&et.UserID, &et.Day, &et.TagID, &et.OrderNo, &et.Revision, &et.CreatedAt, &et.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &et, nil
}

func (f *fakeBackend) CreateEntryTag(ctx context.Context, et *remote.EntryTag) (*remote.EntryTag, error) {
	if err := f.called("CreateEntryTag"); err != nil {
		return nil, err
	}
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	_, err := f.db.Exec(`
		INSERT INTO entry_tags (user_id, day, tag_id, order_no, revision, created_at, modified_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id, day, tag_id) DO UPDATE SET
			order_no = excluded.order_no,
			revision = entry_tags.revision + 1,
			modified_at = excluded.modified_at
	`, et.UserID, et.Day, et.TagID, et.OrderNo, et.CreatedAt.UTC(), et.ModifiedAt.UTC())
	if err != nil {
		return nil, err
	}
	return f.GetEntryTag(ctx, et.UserID, et.Day, et.TagID)
}

func (f *fakeBackend) UpdateEntryTag(ctx context.Context, et *remote.EntryTag) error {
	if err := f.called("UpdateEntryTag"); err != nil {
		return err
	}
	res, err := f.db.Exec(`
		UPDATE entry_tags SET order_no = ?, revision = revision + 1, modified_at = ?
		WHERE user_id = ? AND day = ? AND tag_id = ? AND revision = ?
	`, et.OrderNo, et.ModifiedAt.UTC(), et.UserID, et.Day, et.TagID, et.Revision)
	if err != nil {
		return err
	}
	return f.conditionalResult(res, `SELECT COUNT(*) FROM entry_tags WHERE user_id = ? AND day = ? AND tag_id = ?`, et.UserID, et.Day, et.TagID)
}

func (f *fakeBackend) DeleteEntryTag(ctx context.Context, userID, day, tagID string, revision int64) error {
	if err := f.called("DeleteEntryTag"); err != nil {
		return err
	}
	res, err := f.db.Exec(`
		DELETE FROM entry_tags WHERE user_id = ? AND day = ? AND tag_id = ? AND revision = ?
	`, userID, day, tagID, revision)
	if err != nil {
		return err
	}
	return f.conditionalResult(res, `SELECT COUNT(*) FROM entry_tags WHERE user_id = ? AND day = ? AND tag_id = ?`, userID, day, tagID)
}

// conditionalResult maps a zero-rows conditional write to the server's error
// classes: the row exists with a different revision (412) or is gone (404).
func (f *fakeBackend) conditionalResult(res sql.Result, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := f.db.QueryRow(existsQuery, args...).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return remote.ErrRevisionMismatch
	}
	return remote.ErrNotFound
}

// seedEntry plants a server-side row at a given revision.
func (f *fakeBackend) seedEntry(t *testing.T, userID, day string, content, iv []byte, revision int64) {
	t.Helper()
	now := time.Now().UTC()
	_, err := f.db.Exec(`
		INSERT OR REPLACE INTO entries (user_id, day, content, iv, revision, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, day, content, iv, revision, now, now)
	if err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func (f *fakeBackend) seedTag(t *testing.T, userID, id, name, color string, revision int64) {
	t.Helper()
	now := time.Now().UTC()
	_, err := f.db.Exec(`
		INSERT OR REPLACE INTO tags (id, user_id, name, color, revision, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, userID, name, color, revision, now, now)
	if err != nil {
		t.Fatalf("seed tag: %v", err)
	}
}

func (f *fakeBackend) seedEntryTag(t *testing.T, userID, day, tagID string, orderNo int, revision int64) {
	t.Helper()
	now := time.Now().UTC()
	_, err := f.db.Exec(`
		INSERT OR REPLACE INTO entry_tags (user_id, day, tag_id, order_no, revision, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, day, tagID, orderNo, revision, now, now)
	if err != nil {
		t.Fatalf("seed entry tag: %v", err)
	}
}

// deleteServerEntry removes a row out-of-band, as another device would.
func (f *fakeBackend) deleteServerEntry(t *testing.T, userID, day string) {
	t.Helper()
	if _, err := f.db.Exec(`DELETE FROM entries WHERE user_id = ? AND day = ?`, userID, day); err != nil {
		t.Fatalf("delete server entry: %v", err)
	}
}

func (f *fakeBackend) entryCount(t *testing.T, userID string) int {
	t.Helper()
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE user_id = ?`, userID).Scan(&n); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

var _ Backend = (*fakeBackend)(nil)
