package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/keys"
	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/remote"
)

// batchSize caps how many days one bootstrap fetch asks for.
const batchSize = 50

// EntrySyncer reconciles the entries family. One pass pushes pending
// updates and deletes, runs the one-shot bootstrap pull, and queues UI
// refreshes for every day the remote side changed.
type EntrySyncer struct {
	cache    *cache.Store
	backend  Backend
	keys     KeySource
	registry *Registry
	userID   string

	// onUnauthorized fires when the session token is rejected; the owner
	// handles sign-out and cache purge.
	onUnauthorized func()

	// fetched gates the bootstrap pull to once per process lifetime. The
	// tag duty cycle reads it through Bootstrapped, hence atomic.
	fetched atomic.Bool
}

// NewEntrySyncer wires an entry duty cycle for one user.
func NewEntrySyncer(c *cache.Store, b Backend, ks KeySource, reg *Registry, userID string, onUnauthorized func()) *EntrySyncer {
	return &EntrySyncer{
		cache:          c,
		backend:        b,
		keys:           ks,
		registry:       reg,
		userID:         userID,
		onUnauthorized: onUnauthorized,
	}
}

// RunPass executes one reconciliation pass: push updates, push deletes,
// bootstrap pull (once), then flush refresh notifications. It returns the
// number of rows still pending. All refresh notifications queued before an
// abort are still flushed.
func (s *EntrySyncer) RunPass(ctx context.Context) (int, error) {
	p := newPassState()
	defer p.flush(s.registry)

	if err := s.pushUpserts(ctx, p); err != nil {
		return s.countPending(), err
	}
	if err := s.pushDeletes(ctx, p); err != nil {
		return s.countPending(), err
	}
	if !s.fetched.Load() {
		if err := s.bootstrap(ctx, p); err != nil {
			return s.countPending(), fmt.Errorf("bootstrap pull: %w", err)
		}
		s.fetched.Store(true)
	}

	return s.countPending(), nil
}

// Bootstrapped reports whether the one-shot bootstrap pull has completed,
// after which the local entry set mirrors the server's.
func (s *EntrySyncer) Bootstrapped() bool {
	return s.fetched.Load()
}

// countPending tallies rows in any pending state.
func (s *EntrySyncer) countPending() int {
	n := 0
	for _, st := range []models.SyncStatus{models.StatusPendingInsert, models.StatusPendingUpdate, models.StatusPendingDelete} {
		rows, err := s.cache.ListEntriesByStatus(s.userID, st)
		if err != nil {
			slog.Warn("count pending entries", "err", err)
			continue
		}
		n += len(rows)
	}
	return n
}

// pushUpserts uploads pending_insert and pending_update rows. Inserts share
// the upload path but go out as unconditional creates; updates are
// conditional on the revision the client last saw.
func (s *EntrySyncer) pushUpserts(ctx context.Context, p *passState) error {
	inserts, err := s.cache.ListEntriesByStatus(s.userID, models.StatusPendingInsert)
	if err != nil {
		return err
	}
	updates, err := s.cache.ListEntriesByStatus(s.userID, models.StatusPendingUpdate)
	if err != nil {
		return err
	}
	rows := append(inserts, updates...)
	if len(rows) == 0 {
		return nil
	}

	key, err := s.keys.Get(ctx, s.userID)
	if err != nil {
		return err
	}

	for i := range rows {
		e := &rows[i]
		ct, nonce, err := keys.EncryptContent(key, e.Content)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", e.Day, err)
		}
		iv := base64.StdEncoding.EncodeToString(nonce)
		wire := &remote.Entry{
			UserID:     e.UserID,
			Day:        string(e.Day),
			Content:    ct,
			IV:         nonce,
			Revision:   e.Revision,
			CreatedAt:  e.CreatedAt,
			ModifiedAt: e.ModifiedAt,
		}

		if e.SyncStatus == models.StatusPendingInsert {
			stored, err := s.backend.CreateEntry(ctx, wire)
			if err != nil {
				if s.fatal(err) {
					return err
				}
				slog.Warn("push entry insert failed; will retry", "day", e.Day, "err", err)
				continue
			}
			if _, err := s.cache.MarkEntrySynced(e.UserID, e.Day, stored.Revision, iv, models.StatusPendingInsert); err != nil {
				return err
			}
			continue
		}

		err = s.backend.UpdateEntry(ctx, wire)
		switch {
		case err == nil:
			// Successful conditional write bumps the revision by exactly 1.
			if _, err := s.cache.MarkEntrySynced(e.UserID, e.Day, e.Revision+1, iv, models.StatusPendingUpdate); err != nil {
				return err
			}
		case errors.Is(err, remote.ErrRevisionMismatch) || errors.Is(err, remote.ErrNotFound):
			if rerr := s.resolveEntry(ctx, e, key, p); rerr != nil {
				if s.fatal(rerr) {
					return rerr
				}
				slog.Warn("resolve entry conflict failed; will retry", "day", e.Day, "err", rerr)
			}
		default:
			if s.fatal(err) {
				return err
			}
			slog.Warn("push entry update failed; will retry", "day", e.Day, "err", err)
		}
	}
	return nil
}

// pushDeletes issues remote deletes for pending_delete rows; success purges
// the local row, a transient failure leaves it for the next pass.
func (s *EntrySyncer) pushDeletes(ctx context.Context, p *passState) error {
	rows, err := s.cache.ListEntriesByStatus(s.userID, models.StatusPendingDelete)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var key []byte
	for i := range rows {
		e := &rows[i]
		err := s.backend.DeleteEntry(ctx, e.UserID, string(e.Day), e.Revision)
		switch {
		case err == nil:
			purged, err := s.cache.DeleteEntryPending(e.UserID, e.Day)
			if err != nil {
				return err
			}
			if !purged {
				// A local write resurrected the row while the delete was in
				// flight. The remote row is gone now, so the new content has
				// to go out as a fresh insert.
				if err := s.requeueAsInsert(e.UserID, e.Day); err != nil {
					return err
				}
			}
		case errors.Is(err, remote.ErrRevisionMismatch) || errors.Is(err, remote.ErrNotFound):
			if key == nil {
				if key, err = s.keys.Get(ctx, s.userID); err != nil {
					return err
				}
			}
			if rerr := s.resolveEntry(ctx, e, key, p); rerr != nil {
				if s.fatal(rerr) {
					return rerr
				}
				slog.Warn("resolve entry delete failed; will retry", "day", e.Day, "err", rerr)
			}
		default:
			if s.fatal(err) {
				return err
			}
			slog.Warn("push entry delete failed; will retry", "day", e.Day, "err", err)
		}
	}
	return nil
}

// requeueAsInsert flips a resurrected row to pending_insert so the next
// upsert pass recreates it remotely. A row already purged by a concurrent
// writer is left alone.
func (s *EntrySyncer) requeueAsInsert(userID string, day models.Day) error {
	cur, err := s.cache.GetEntry(userID, day)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	st := models.StatusPendingInsert
	return s.cache.PatchEntry(userID, day, cache.EntryPatch{Status: &st})
}

// resolveEntry applies the shared conflict policy after a conditional write
// affected zero rows.
func (s *EntrySyncer) resolveEntry(ctx context.Context, local *models.Entry, key []byte, p *passState) error {
	re, err := s.backend.GetEntry(ctx, local.UserID, string(local.Day))
	if errors.Is(err, remote.ErrNotFound) {
		// Deleted upstream: purge locally regardless of pending state.
		if err := s.cache.DeleteEntry(local.UserID, local.Day); err != nil {
			return err
		}
		p.day(local.Day)
		p.listChanged = true
		return nil
	}
	if err != nil {
		return err
	}

	switch Resolve(true, re.Revision, local.Revision) {
	case OutcomeAdopt:
		if err := s.adoptEntry(re, key); err != nil {
			return err
		}
		p.day(local.Day)
	case OutcomeRetry:
		// Same revision: transient empty result, row stays pending.
	}
	return nil
}

// adoptEntry decrypts a remote row and overwrites the local copy, synced.
func (s *EntrySyncer) adoptEntry(re *remote.Entry, key []byte) error {
	plain, err := keys.DecryptContent(key, re.IV, re.Content)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", re.Day, err)
	}
	e := &models.Entry{
		UserID:     re.UserID,
		Day:        models.Day(re.Day),
		Content:    plain,
		Revision:   re.Revision,
		CreatedAt:  re.CreatedAt,
		ModifiedAt: re.ModifiedAt,
	}
	return s.cache.AdoptEntry(e, base64.StdEncoding.EncodeToString(re.IV))
}

// bootstrap diffs the full remote (day, revision) index against the cache:
// local synced days absent remotely are deleted; remote days absent locally
// or with a greater revision are fetched in batches, decrypted and adopted.
// Rows still pending are left to the push path.
func (s *EntrySyncer) bootstrap(ctx context.Context, p *passState) error {
	heads, err := s.backend.ListEntryHeads(ctx, s.userID)
	if err != nil {
		s.fatal(err)
		return err
	}

	remoteRev := make(map[models.Day]int64, len(heads))
	for _, h := range heads {
		remoteRev[models.Day(h.Day)] = h.Revision
	}

	local := map[models.Day]*models.Entry{}
	synced, err := s.cache.ListEntriesByStatus(s.userID, models.StatusSynced)
	if err != nil {
		return err
	}
	for i := range synced {
		local[synced[i].Day] = &synced[i]
	}

	// Local synced days gone from the server
	for day := range local {
		if _, ok := remoteRev[day]; !ok {
			if err := s.cache.DeleteEntry(s.userID, day); err != nil {
				return err
			}
			p.day(day)
			p.listChanged = true
		}
	}

	// Remote days missing locally or newer than the cache
	var toFetch []string
	for day, rev := range remoteRev {
		le, ok := local[day]
		if !ok {
			if exists, err := s.cache.EntryExists(s.userID, day); err != nil {
				return err
			} else if exists {
				continue // pending local row; the push path owns it
			}
			toFetch = append(toFetch, string(day))
			continue
		}
		if rev > le.Revision {
			toFetch = append(toFetch, string(day))
		}
	}
	if len(toFetch) == 0 {
		return nil
	}

	key, err := s.keys.Get(ctx, s.userID)
	if err != nil {
		return err
	}

	for _, batch := range chunk(toFetch, batchSize) {
		entries, err := s.backend.GetEntriesBatch(ctx, s.userID, batch)
		if err != nil {
			s.fatal(err)
			return err
		}
		for i := range entries {
			re := &entries[i]
			if err := s.adoptEntry(re, key); err != nil {
				return err
			}
			day := models.Day(re.Day)
			p.day(day)
			if _, wasLocal := local[day]; !wasLocal {
				p.listChanged = true
			}
		}
	}
	return nil
}

// fatal classifies errors that abort the pass. Unauthorized additionally
// triggers the sign-out callback.
func (s *EntrySyncer) fatal(err error) bool {
	if errors.Is(err, remote.ErrUnauthorized) {
		if s.onUnauthorized != nil {
			s.onUnauthorized()
		}
		return true
	}
	if errors.Is(err, keys.ErrKeyUnavailable) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// ActiveDays returns the cache's active days, oldest first. The engine uses
// it to rebuild its in-memory list after a pass reshapes the calendar.
func (s *EntrySyncer) ActiveDays() ([]models.Day, error) {
	entries, err := s.cache.ActiveEntries(s.userID)
	if err != nil {
		return nil, err
	}
	days := make([]models.Day, 0, len(entries))
	for _, e := range entries {
		days = append(days, e.Day)
	}
	return days, nil
}
