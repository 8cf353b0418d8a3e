package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/remote"
)

func TestTagAndLinkPush(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)
	s.fetched = true

	if _, err := store.UpsertEntry(testUser, "2026-08-01", content("x")); err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}
	if _, err := store.UpsertTag(testUser, "tag-1", "work", models.ColorBlue); err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}
	if _, err := store.UpsertEntryTag(testUser, "2026-08-01", "tag-1", 0); err != nil {
		t.Fatalf("UpsertEntryTag failed: %v", err)
	}

	remaining, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	tag, _ := store.GetTag("tag-1")
	if tag.SyncStatus != models.StatusSynced {
		t.Errorf("tag status = %s, want synced", tag.SyncStatus)
	}
	link, _ := store.GetEntryTag(testUser, "2026-08-01", "tag-1")
	if link.SyncStatus != models.StatusSynced {
		t.Errorf("link status = %s, want synced", link.SyncStatus)
	}

	rt, err := backend.GetTag(context.Background(), testUser, "tag-1")
	if err != nil {
		t.Fatalf("backend GetTag failed: %v", err)
	}
	if rt.Name != "work" || rt.Color != "blue" {
		t.Errorf("server tag = %s/%s", rt.Name, rt.Color)
	}
}

func TestTagUpdateConflictAdoptsRemote(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)
	s.fetched = true

	rec := newRecorder(reg, "2026-08-01")

	// Another device renamed the tag; the server is at revision 2.
	backend.seedTag(t, testUser, "tag-1", "their-name", "green", 2)

	if err := store.AdoptTag(&models.Tag{
		ID: "tag-1", UserID: testUser, Name: "old", Color: models.ColorBlue, Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}
	if _, err := store.UpsertTag(testUser, "tag-1", "my-name", models.ColorRed); err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}
	// A day shows this tag; it must be repainted when the tag is adopted.
	if _, err := store.UpsertEntryTag(testUser, "2026-08-01", "tag-1", 0); err != nil {
		t.Fatalf("UpsertEntryTag failed: %v", err)
	}
	if _, err := store.MarkEntryTagSynced(testUser, "2026-08-01", "tag-1", 0, models.StatusPendingInsert); err != nil {
		t.Fatalf("MarkEntryTagSynced failed: %v", err)
	}
	backend.seedEntryTag(t, testUser, "2026-08-01", "tag-1", 0, 0)

	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	tag, _ := store.GetTag("tag-1")
	if tag.Name != "their-name" || tag.Color != models.ColorGreen {
		t.Errorf("tag = %s/%s, want remote copy", tag.Name, tag.Color)
	}
	if tag.SyncStatus != models.StatusSynced || tag.Revision != 2 {
		t.Errorf("got status=%s revision=%d, want synced/2", tag.SyncStatus, tag.Revision)
	}
	if !rec.sawDay("2026-08-01") {
		t.Error("linked day not repainted")
	}
}

func TestTagRemoteDeletePurgesLocal(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)
	s.fetched = true

	// The tag is gone upstream; the local rename cannot land.
	if err := store.AdoptTag(&models.Tag{
		ID: "tag-1", UserID: testUser, Name: "old", Color: models.ColorBlue, Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}
	if _, err := store.UpsertTag(testUser, "tag-1", "renamed", models.ColorBlue); err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}

	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if tag, _ := store.GetTag("tag-1"); tag != nil {
		t.Error("tag survived a remote delete")
	}
}

func TestTagDeleteAlreadyGoneUpstream(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)
	s.fetched = true

	// Deleted on both sides: the conditional delete finds zero rows and the
	// follow-up fetch finds nothing, so the local row is quietly purged.
	if err := store.AdoptTag(&models.Tag{
		ID: "tag-1", UserID: testUser, Name: "work", Color: models.ColorBlue, Revision: 2,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}
	if err := store.MarkTagDeleted("tag-1"); err != nil {
		t.Fatalf("MarkTagDeleted failed: %v", err)
	}

	remaining, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if tag, _ := store.GetTag("tag-1"); tag != nil {
		t.Error("tag not purged after delete-delete")
	}
}

func TestEntrylessLinkToleratedUntilEntriesPulled(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	// The entries cycle has not finished its bootstrap pull yet.
	s := NewTagSyncer(store, backend, reg, testUser, func() bool { return false }, nil)

	// A valid remote entry with a tag on it. The tag cycle adopts the tag
	// and the link before the entries cycle has pulled the entry.
	ct, nonce := seal(t, testKey(), content("not pulled yet"))
	backend.seedEntry(t, testUser, "2026-08-01", ct, nonce, 1)
	backend.seedTag(t, testUser, "tag-1", "work", "blue", 1)
	backend.seedEntryTag(t, testUser, "2026-08-01", "tag-1", 0, 1)

	for pass := 0; pass < 2; pass++ {
		if _, err := s.RunPass(context.Background()); err != nil {
			t.Fatalf("RunPass %d failed: %v", pass+1, err)
		}
	}

	link, _ := store.GetEntryTag(testUser, "2026-08-01", "tag-1")
	if link == nil || link.SyncStatus != models.StatusSynced {
		t.Fatalf("link purged while its entry was merely not yet pulled: %+v", link)
	}
	links, err := backend.ListEntryTags(context.Background(), testUser)
	if err != nil {
		t.Fatalf("backend ListEntryTags failed: %v", err)
	}
	if len(links) != 1 {
		t.Errorf("server links = %d, want 1", len(links))
	}
}

func TestEntrylessLinkSweptAfterEntriesBootstrap(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, func() bool { return true }, nil)
	s.fetched = true

	// The entry is gone on both sides but a crash mid-cascade left its link
	// behind, locally and remotely. The tag itself is fine.
	backend.seedTag(t, testUser, "tag-1", "work", "blue", 1)
	backend.seedEntryTag(t, testUser, "2026-08-01", "tag-1", 0, 1)
	if err := store.AdoptTag(&models.Tag{
		ID: "tag-1", UserID: testUser, Name: "work", Color: models.ColorBlue, Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}
	if err := store.AdoptEntryTag(&models.EntryTag{
		UserID: testUser, Day: "2026-08-01", TagID: "tag-1", Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptEntryTag failed: %v", err)
	}

	remaining, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if link, _ := store.GetEntryTag(testUser, "2026-08-01", "tag-1"); link != nil {
		t.Error("entry-less link not swept after the entries bootstrap")
	}
	links, err := backend.ListEntryTags(context.Background(), testUser)
	if err != nil {
		t.Fatalf("backend ListEntryTags failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("server links = %d, want 0", len(links))
	}
}

func TestTagDeleteSweepsLinksSamePass(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)
	s.fetched = true

	// Tag and link synced on both sides; the user deletes the tag.
	backend.seedTag(t, testUser, "tag-1", "work", "blue", 1)
	backend.seedEntryTag(t, testUser, "2026-08-01", "tag-1", 0, 1)
	if _, err := store.UpsertEntry(testUser, "2026-08-01", content("x")); err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}
	if err := store.AdoptTag(&models.Tag{
		ID: "tag-1", UserID: testUser, Name: "work", Color: models.ColorBlue, Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}
	if err := store.AdoptEntryTag(&models.EntryTag{
		UserID: testUser, Day: "2026-08-01", TagID: "tag-1", Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptEntryTag failed: %v", err)
	}
	if err := store.MarkTagDeleted("tag-1"); err != nil {
		t.Fatalf("MarkTagDeleted failed: %v", err)
	}

	// One pass removes the tag and its links everywhere; nothing is left
	// pending for a later wake.
	remaining, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if link, _ := store.GetEntryTag(testUser, "2026-08-01", "tag-1"); link != nil {
		t.Error("local link of the deleted tag not swept")
	}
	links, err := backend.ListEntryTags(context.Background(), testUser)
	if err != nil {
		t.Fatalf("backend ListEntryTags failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("server links = %d, want 0", len(links))
	}
	if _, err := backend.GetTag(context.Background(), testUser, "tag-1"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("server tag lookup = %v, want not found", err)
	}
}

func TestOrphanLinksSweep(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)
	s.fetched = true

	if _, err := store.UpsertEntry(testUser, "2026-08-01", content("x")); err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}

	// A synced link whose tag was purged: flag for remote deletion.
	backend.seedEntryTag(t, testUser, "2026-08-01", "gone-tag", 0, 1)
	if err := store.AdoptEntryTag(&models.EntryTag{
		UserID: testUser, Day: "2026-08-01", TagID: "gone-tag", Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptEntryTag failed: %v", err)
	}

	// A never-pushed link whose tag was purged: drop silently.
	if _, err := store.UpsertEntryTag(testUser, "2026-08-01", "draft-tag", 1); err != nil {
		t.Fatalf("UpsertEntryTag failed: %v", err)
	}

	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if link, _ := store.GetEntryTag(testUser, "2026-08-01", "draft-tag"); link != nil {
		t.Error("never-pushed orphan not dropped")
	}
	// The synced orphan was flagged and pushed in the same pass.
	if link, _ := store.GetEntryTag(testUser, "2026-08-01", "gone-tag"); link != nil {
		t.Error("synced orphan not deleted")
	}
	links, err := backend.ListEntryTags(context.Background(), testUser)
	if err != nil {
		t.Fatalf("backend ListEntryTags failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("server links = %d, want 0", len(links))
	}
}

func TestTagBootstrap(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)

	rec := newRecorder(reg, "2026-08-01")

	backend.seedTag(t, testUser, "tag-1", "work", "blue", 1)
	backend.seedEntryTag(t, testUser, "2026-08-01", "tag-1", 0, 1)

	// A synced local tag the server dropped.
	if err := store.AdoptTag(&models.Tag{
		ID: "tag-9", UserID: testUser, Name: "stale", Color: models.ColorGray, Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}

	remaining, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	tag, _ := store.GetTag("tag-1")
	if tag == nil || tag.SyncStatus != models.StatusSynced {
		t.Fatalf("remote tag not adopted: %+v", tag)
	}
	link, _ := store.GetEntryTag(testUser, "2026-08-01", "tag-1")
	if link == nil || link.SyncStatus != models.StatusSynced {
		t.Fatalf("remote link not adopted: %+v", link)
	}
	if stale, _ := store.GetTag("tag-9"); stale != nil {
		t.Error("dropped tag survived bootstrap")
	}
	if !rec.sawDay("2026-08-01") {
		t.Error("linked day not repainted")
	}

	// Once per process.
	backend.resetCalls()
	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("second RunPass failed: %v", err)
	}
	if backend.calls["ListTags"] != 0 || backend.calls["ListEntryTags"] != 0 {
		t.Error("bootstrap ran twice")
	}
}

func TestTagBootstrapSkipsPendingLocalTag(t *testing.T) {
	store := newTestCache(t)
	backend := newFakeBackend(t)
	reg := NewRegistry()
	s := NewTagSyncer(store, backend, reg, testUser, nil, nil)

	// Local pending rename for a tag the server also has; the push fails
	// this pass, and bootstrap must not clobber the pending row.
	backend.seedTag(t, testUser, "tag-1", "server-name", "blue", 5)
	if err := store.AdoptTag(&models.Tag{
		ID: "tag-1", UserID: testUser, Name: "old", Color: models.ColorBlue, Revision: 1,
	}); err != nil {
		t.Fatalf("AdoptTag failed: %v", err)
	}
	if _, err := store.UpsertTag(testUser, "tag-1", "local-rename", models.ColorBlue); err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}

	// The conflict path adopts the server copy, so after the pass the tag
	// is the server's; the point here is bootstrap not racing the push.
	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	tag, _ := store.GetTag("tag-1")
	if tag == nil {
		t.Fatal("tag missing")
	}
	if tag.SyncStatus != models.StatusSynced || tag.Revision != 5 {
		t.Errorf("got status=%s revision=%d, want synced/5", tag.SyncStatus, tag.Revision)
	}
}
