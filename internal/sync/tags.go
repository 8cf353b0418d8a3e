package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/remote"
)

// TagSyncer reconciles the tags family: tag definitions first, then the
// day-tag links that reference them. Both ride one duty cycle because a link
// is meaningless until its tag exists remotely.
type TagSyncer struct {
	cache    *cache.Store
	backend  Backend
	registry *Registry
	userID   string

	// entriesReady reports whether the entries family has finished its
	// bootstrap pull. Until then a link whose entry is absent locally may
	// simply not have been pulled yet and must not be treated as an orphan.
	entriesReady func() bool

	onUnauthorized func()

	fetched bool
}

// NewTagSyncer wires a tag duty cycle for one user. entriesReady may be nil
// when no entries cycle runs alongside; entry-less links are then always
// tolerated.
func NewTagSyncer(c *cache.Store, b Backend, reg *Registry, userID string, entriesReady func() bool, onUnauthorized func()) *TagSyncer {
	return &TagSyncer{
		cache:          c,
		backend:        b,
		registry:       reg,
		userID:         userID,
		entriesReady:   entriesReady,
		onUnauthorized: onUnauthorized,
	}
}

// RunPass executes one reconciliation pass over tags and links: orphan
// cleanup, push tags, push links, push deletes, then the one-shot bootstrap
// pull. Returns the number of rows still pending.
func (s *TagSyncer) RunPass(ctx context.Context) (int, error) {
	p := newPassState()
	defer p.flush(s.registry)

	if err := s.cleanupOrphans(); err != nil {
		return s.countPending(), err
	}
	if err := s.pushTags(ctx, p); err != nil {
		return s.countPending(), err
	}
	if err := s.pushLinks(ctx, p); err != nil {
		return s.countPending(), err
	}
	if err := s.pushTagDeletes(ctx, p); err != nil {
		return s.countPending(), err
	}
	// Tags purged above orphan their links; sweep again so the links go out
	// in this pass instead of waiting for the next wake.
	if err := s.cleanupOrphans(); err != nil {
		return s.countPending(), err
	}
	if err := s.pushLinkDeletes(ctx, p); err != nil {
		return s.countPending(), err
	}
	if !s.fetched {
		if err := s.bootstrap(ctx, p); err != nil {
			return s.countPending(), err
		}
		s.fetched = true
	}

	return s.countPending(), nil
}

func (s *TagSyncer) countPending() int {
	n := 0
	for _, st := range []models.SyncStatus{models.StatusPendingInsert, models.StatusPendingUpdate, models.StatusPendingDelete} {
		tags, err := s.cache.ListTagsByStatus(s.userID, st)
		if err != nil {
			slog.Warn("count pending tags", "err", err)
		} else {
			n += len(tags)
		}
		links, err := s.cache.ListEntryTagsByStatus(s.userID, st)
		if err != nil {
			slog.Warn("count pending entry tags", "err", err)
		} else {
			n += len(links)
		}
	}
	return n
}

// cleanupOrphans sweeps orphaned links. A link whose tag is gone locally is
// always an orphan. A link whose entry is absent counts only once the
// entries bootstrap has completed: before that the entry may just not have
// been pulled yet, and escalating the link would destroy it remotely. A
// never-pushed orphan is purged outright; anything the server may know about
// is flagged pending_delete so the push path removes it.
func (s *TagSyncer) cleanupOrphans() error {
	orphans, err := s.cache.OrphanEntryTags(s.userID)
	if err != nil {
		return err
	}
	if s.entriesReady != nil && s.entriesReady() {
		entryless, err := s.cache.EntrylessEntryTags(s.userID)
		if err != nil {
			return err
		}
		orphans = append(orphans, entryless...)
	}
	for i := range orphans {
		et := &orphans[i]
		switch et.SyncStatus {
		case models.StatusPendingDelete:
			// Already on its way out.
		case models.StatusPendingInsert:
			if err := s.cache.DeleteEntryTag(et.UserID, et.Day, et.TagID); err != nil {
				return err
			}
		default:
			if err := s.cache.MarkEntryTagDeleted(et.UserID, et.Day, et.TagID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *TagSyncer) pushTags(ctx context.Context, p *passState) error {
	inserts, err := s.cache.ListTagsByStatus(s.userID, models.StatusPendingInsert)
	if err != nil {
		return err
	}
	updates, err := s.cache.ListTagsByStatus(s.userID, models.StatusPendingUpdate)
	if err != nil {
		return err
	}

	for _, rows := range [][]models.Tag{inserts, updates} {
		for i := range rows {
			t := &rows[i]
			wire := &remote.Tag{
				ID:         t.ID,
				UserID:     t.UserID,
				Name:       t.Name,
				Color:      string(t.Color),
				Revision:   t.Revision,
				CreatedAt:  t.CreatedAt,
				ModifiedAt: t.ModifiedAt,
			}

			if t.SyncStatus == models.StatusPendingInsert {
				stored, err := s.backend.CreateTag(ctx, wire)
				if err != nil {
					if s.fatal(err) {
						return err
					}
					slog.Warn("push tag insert failed; will retry", "tag", t.ID, "err", err)
					continue
				}
				if _, err := s.cache.MarkTagSynced(t.ID, stored.Revision, models.StatusPendingInsert); err != nil {
					return err
				}
				continue
			}

			err := s.backend.UpdateTag(ctx, wire)
			switch {
			case err == nil:
				if _, err := s.cache.MarkTagSynced(t.ID, t.Revision+1, models.StatusPendingUpdate); err != nil {
					return err
				}
				if err := s.dirtyTagDays(t.ID, p); err != nil {
					return err
				}
			case errors.Is(err, remote.ErrRevisionMismatch) || errors.Is(err, remote.ErrNotFound):
				if rerr := s.resolveTag(ctx, t, p); rerr != nil {
					if s.fatal(rerr) {
						return rerr
					}
					slog.Warn("resolve tag conflict failed; will retry", "tag", t.ID, "err", rerr)
				}
			default:
				if s.fatal(err) {
					return err
				}
				slog.Warn("push tag update failed; will retry", "tag", t.ID, "err", err)
			}
		}
	}
	return nil
}

func (s *TagSyncer) pushTagDeletes(ctx context.Context, p *passState) error {
	rows, err := s.cache.ListTagsByStatus(s.userID, models.StatusPendingDelete)
	if err != nil {
		return err
	}
	for i := range rows {
		t := &rows[i]
		err := s.backend.DeleteTag(ctx, t.UserID, t.ID, t.Revision)
		switch {
		case err == nil:
			if err := s.dirtyTagDays(t.ID, p); err != nil {
				return err
			}
			if err := s.cache.DeleteTag(t.ID); err != nil {
				return err
			}
			p.listChanged = true
		case errors.Is(err, remote.ErrRevisionMismatch) || errors.Is(err, remote.ErrNotFound):
			if rerr := s.resolveTag(ctx, t, p); rerr != nil {
				if s.fatal(rerr) {
					return rerr
				}
				slog.Warn("resolve tag delete failed; will retry", "tag", t.ID, "err", rerr)
			}
		default:
			if s.fatal(err) {
				return err
			}
			slog.Warn("push tag delete failed; will retry", "tag", t.ID, "err", err)
		}
	}
	return nil
}

func (s *TagSyncer) pushLinks(ctx context.Context, p *passState) error {
	inserts, err := s.cache.ListEntryTagsByStatus(s.userID, models.StatusPendingInsert)
	if err != nil {
		return err
	}
	updates, err := s.cache.ListEntryTagsByStatus(s.userID, models.StatusPendingUpdate)
	if err != nil {
		return err
	}

	for _, rows := range [][]models.EntryTag{inserts, updates} {
		for i := range rows {
			et := &rows[i]
			wire := &remote.EntryTag{
				UserID:     et.UserID,
				Day:        string(et.Day),
				TagID:      et.TagID,
				OrderNo:    et.OrderNo,
				Revision:   et.Revision,
				CreatedAt:  et.CreatedAt,
				ModifiedAt: et.ModifiedAt,
			}

			if et.SyncStatus == models.StatusPendingInsert {
				stored, err := s.backend.CreateEntryTag(ctx, wire)
				if err != nil {
					if s.fatal(err) {
						return err
					}
					slog.Warn("push link insert failed; will retry", "day", et.Day, "tag", et.TagID, "err", err)
					continue
				}
				if _, err := s.cache.MarkEntryTagSynced(et.UserID, et.Day, et.TagID, stored.Revision, models.StatusPendingInsert); err != nil {
					return err
				}
				continue
			}

			err := s.backend.UpdateEntryTag(ctx, wire)
			switch {
			case err == nil:
				if _, err := s.cache.MarkEntryTagSynced(et.UserID, et.Day, et.TagID, et.Revision+1, models.StatusPendingUpdate); err != nil {
					return err
				}
			case errors.Is(err, remote.ErrRevisionMismatch) || errors.Is(err, remote.ErrNotFound):
				if rerr := s.resolveLink(ctx, et, p); rerr != nil {
					if s.fatal(rerr) {
						return rerr
					}
					slog.Warn("resolve link conflict failed; will retry", "day", et.Day, "tag", et.TagID, "err", rerr)
				}
			default:
				if s.fatal(err) {
					return err
				}
				slog.Warn("push link update failed; will retry", "day", et.Day, "tag", et.TagID, "err", err)
			}
		}
	}
	return nil
}

func (s *TagSyncer) pushLinkDeletes(ctx context.Context, p *passState) error {
	rows, err := s.cache.ListEntryTagsByStatus(s.userID, models.StatusPendingDelete)
	if err != nil {
		return err
	}
	for i := range rows {
		et := &rows[i]
		err := s.backend.DeleteEntryTag(ctx, et.UserID, string(et.Day), et.TagID, et.Revision)
		switch {
		case err == nil:
			if err := s.cache.DeleteEntryTag(et.UserID, et.Day, et.TagID); err != nil {
				return err
			}
			p.day(et.Day)
		case errors.Is(err, remote.ErrRevisionMismatch) || errors.Is(err, remote.ErrNotFound):
			if rerr := s.resolveLink(ctx, et, p); rerr != nil {
				if s.fatal(rerr) {
					return rerr
				}
				slog.Warn("resolve link delete failed; will retry", "day", et.Day, "tag", et.TagID, "err", rerr)
			}
		default:
			if s.fatal(err) {
				return err
			}
			slog.Warn("push link delete failed; will retry", "day", et.Day, "tag", et.TagID, "err", err)
		}
	}
	return nil
}

// resolveTag applies the shared conflict policy to one tag.
func (s *TagSyncer) resolveTag(ctx context.Context, local *models.Tag, p *passState) error {
	rt, err := s.backend.GetTag(ctx, local.UserID, local.ID)
	if errors.Is(err, remote.ErrNotFound) {
		if err := s.dirtyTagDays(local.ID, p); err != nil {
			return err
		}
		if err := s.cache.DeleteTag(local.ID); err != nil {
			return err
		}
		p.listChanged = true
		return nil
	}
	if err != nil {
		return err
	}

	switch Resolve(true, rt.Revision, local.Revision) {
	case OutcomeAdopt:
		if err := s.adoptTag(rt); err != nil {
			return err
		}
		if err := s.dirtyTagDays(local.ID, p); err != nil {
			return err
		}
		p.listChanged = true
	case OutcomeRetry:
		// Transient; row stays pending.
	}
	return nil
}

// resolveLink applies the shared conflict policy to one link.
func (s *TagSyncer) resolveLink(ctx context.Context, local *models.EntryTag, p *passState) error {
	rl, err := s.backend.GetEntryTag(ctx, local.UserID, string(local.Day), local.TagID)
	if errors.Is(err, remote.ErrNotFound) {
		if err := s.cache.DeleteEntryTag(local.UserID, local.Day, local.TagID); err != nil {
			return err
		}
		p.day(local.Day)
		return nil
	}
	if err != nil {
		return err
	}

	switch Resolve(true, rl.Revision, local.Revision) {
	case OutcomeAdopt:
		if err := s.adoptLink(rl); err != nil {
			return err
		}
		p.day(local.Day)
	case OutcomeRetry:
	}
	return nil
}

func (s *TagSyncer) adoptTag(rt *remote.Tag) error {
	return s.cache.AdoptTag(&models.Tag{
		ID:         rt.ID,
		UserID:     rt.UserID,
		Name:       rt.Name,
		Color:      models.TagColor(rt.Color),
		Revision:   rt.Revision,
		CreatedAt:  rt.CreatedAt,
		ModifiedAt: rt.ModifiedAt,
	})
}

func (s *TagSyncer) adoptLink(rl *remote.EntryTag) error {
	return s.cache.AdoptEntryTag(&models.EntryTag{
		UserID:     rl.UserID,
		Day:        models.Day(rl.Day),
		TagID:      rl.TagID,
		OrderNo:    rl.OrderNo,
		Revision:   rl.Revision,
		CreatedAt:  rl.CreatedAt,
		ModifiedAt: rl.ModifiedAt,
	})
}

// dirtyTagDays marks every day linked to a tag for refresh; a rename or
// recolor repaints each day chip that shows it.
func (s *TagSyncer) dirtyTagDays(tagID string, p *passState) error {
	days, err := s.cache.DaysForTag(tagID)
	if err != nil {
		return err
	}
	for _, d := range days {
		p.day(d)
	}
	return nil
}

// bootstrap pulls the full remote tag and link sets and diffs them against
// the cache. Rows with local pending state are left to the push path; the
// rest are adopted or purged to mirror the server.
func (s *TagSyncer) bootstrap(ctx context.Context, p *passState) error {
	remoteTags, err := s.backend.ListTags(ctx, s.userID)
	if err != nil {
		s.fatal(err)
		return err
	}
	remoteLinks, err := s.backend.ListEntryTags(ctx, s.userID)
	if err != nil {
		s.fatal(err)
		return err
	}

	// Tags: adopt new and newer, purge synced locals the server dropped.
	remoteByID := make(map[string]*remote.Tag, len(remoteTags))
	for i := range remoteTags {
		remoteByID[remoteTags[i].ID] = &remoteTags[i]
	}

	syncedTags, err := s.cache.ListTagsByStatus(s.userID, models.StatusSynced)
	if err != nil {
		return err
	}
	localRev := make(map[string]int64, len(syncedTags))
	for _, t := range syncedTags {
		localRev[t.ID] = t.Revision
		if _, ok := remoteByID[t.ID]; !ok {
			if err := s.dirtyTagDays(t.ID, p); err != nil {
				return err
			}
			if err := s.cache.DeleteTag(t.ID); err != nil {
				return err
			}
			p.listChanged = true
		}
	}

	for id, rt := range remoteByID {
		rev, wasSynced := localRev[id]
		if wasSynced && rev >= rt.Revision {
			continue
		}
		if !wasSynced {
			cur, err := s.cache.GetTag(id)
			if err != nil {
				return err
			}
			if cur != nil {
				continue // pending local row; the push path owns it
			}
		}
		if err := s.adoptTag(rt); err != nil {
			return err
		}
		if err := s.dirtyTagDays(id, p); err != nil {
			return err
		}
		p.listChanged = true
	}

	// Links: same shape, keyed by (day, tag).
	type linkKey struct {
		day   models.Day
		tagID string
	}
	remoteByKey := make(map[linkKey]*remote.EntryTag, len(remoteLinks))
	for i := range remoteLinks {
		rl := &remoteLinks[i]
		remoteByKey[linkKey{models.Day(rl.Day), rl.TagID}] = rl
	}

	syncedLinks, err := s.cache.ListEntryTagsByStatus(s.userID, models.StatusSynced)
	if err != nil {
		return err
	}
	localLinkRev := make(map[linkKey]int64, len(syncedLinks))
	for _, et := range syncedLinks {
		k := linkKey{et.Day, et.TagID}
		localLinkRev[k] = et.Revision
		if _, ok := remoteByKey[k]; !ok {
			if err := s.cache.DeleteEntryTag(et.UserID, et.Day, et.TagID); err != nil {
				return err
			}
			p.day(et.Day)
		}
	}

	for k, rl := range remoteByKey {
		rev, wasSynced := localLinkRev[k]
		if wasSynced && rev >= rl.Revision {
			continue
		}
		if !wasSynced {
			cur, err := s.cache.GetEntryTag(s.userID, k.day, k.tagID)
			if err != nil {
				return err
			}
			if cur != nil {
				continue
			}
		}
		if err := s.adoptLink(rl); err != nil {
			return err
		}
		p.day(k.day)
	}

	return nil
}

func (s *TagSyncer) fatal(err error) bool {
	if errors.Is(err, remote.ErrUnauthorized) {
		if s.onUnauthorized != nil {
			s.onUnauthorized()
		}
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
