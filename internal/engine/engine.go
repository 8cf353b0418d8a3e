// Package engine is the application-facing facade over the cache, the key
// manager and the sync duty cycles. UI code calls it for every read and
// write; it never blocks on the network.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/keys"
	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/notify"
	"github.com/marcus/daybook/internal/sync"
)

// ErrInvalidColor rejects a tag color outside the palette.
var ErrInvalidColor = errors.New("invalid tag color")

// DefaultInterval is the periodic pass interval when none is configured.
const DefaultInterval = 30 * time.Second

// Options configures an Engine.
type Options struct {
	// DataDir holds the cache database and keystore.
	DataDir string
	UserID  string
	Backend sync.Backend
	Keys    *keys.Manager
	// Interval between periodic passes while rows are pending.
	Interval time.Duration
	// OnSignOut fires after a forced sign-out has purged local state.
	OnSignOut func()
}

// Engine owns the local store and the two sync duty cycles for one user.
type Engine struct {
	userID   string
	cache    *cache.Store
	hub      *notify.Hub
	keys     *keys.Manager
	registry *sync.Registry

	entryRunner *sync.Runner
	tagRunner   *sync.Runner
	started     bool

	onSignOut func()
}

// New opens the cache and wires the sync machinery. Start must be called
// before any background reconciliation happens; reads and writes work
// immediately.
func New(opts Options) (*Engine, error) {
	if opts.UserID == "" {
		return nil, errors.New("engine: user id required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	hub := notify.NewHub()
	store, err := cache.Open(opts.DataDir, cache.WithHub(hub))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		userID:    opts.UserID,
		cache:     store,
		hub:       hub,
		keys:      opts.Keys,
		registry:  sync.NewRegistry(),
		onSignOut: opts.OnSignOut,
	}

	entrySyncer := sync.NewEntrySyncer(store, opts.Backend, opts.Keys, e.registry, opts.UserID, e.forceSignOut)
	tagSyncer := sync.NewTagSyncer(store, opts.Backend, e.registry, opts.UserID, entrySyncer.Bootstrapped, e.forceSignOut)
	e.entryRunner = sync.NewRunner("entries", opts.Interval, entrySyncer.RunPass)
	e.tagRunner = sync.NewRunner("tags", opts.Interval, tagSyncer.RunPass)

	return e, nil
}

// Start launches both duty cycles and the hub-to-runner forwarding. It
// returns immediately; ctx cancellation stops everything.
func (e *Engine) Start(ctx context.Context) {
	e.started = true
	e.entryRunner.Start(ctx)
	e.tagRunner.Start(ctx)

	go forward(ctx, e.hub.C(notify.FamilyEntries), e.entryRunner)
	go forward(ctx, e.hub.C(notify.FamilyTags), e.tagRunner)
}

func forward(ctx context.Context, ch <-chan struct{}, r *sync.Runner) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			r.Notify()
		}
	}
}

// Close waits for the runners to exit and closes the cache. Call after the
// Start context is cancelled.
func (e *Engine) Close() error {
	if e.started {
		<-e.entryRunner.Done()
		<-e.tagRunner.Done()
	}
	return e.cache.Close()
}

// Registry exposes the refresh registry so views can subscribe to the days
// and lists they have mounted.
func (e *Engine) Registry() *sync.Registry {
	return e.registry
}

// SyncNow queues an immediate pass on both duty cycles.
func (e *Engine) SyncNow() {
	e.entryRunner.Notify()
	e.tagRunner.Notify()
}

// SyncStates reports both duty-cycle positions, entries first.
func (e *Engine) SyncStates() (entries, tags sync.State) {
	return e.entryRunner.State(), e.tagRunner.State()
}

// forceSignOut purges everything local for the user after the server
// rejected the session. The cache, the keystore and the in-memory key all
// go; the OnSignOut hook then tells the app to drop credentials.
func (e *Engine) forceSignOut() {
	slog.Warn("session rejected; purging local state", "user", e.userID)
	if err := e.cache.PurgeUser(e.userID); err != nil {
		slog.Error("purge cache on sign-out", "err", err)
	}
	if err := e.keys.Forget(e.userID); err != nil {
		slog.Error("forget key on sign-out", "err", err)
	}
	if e.onSignOut != nil {
		e.onSignOut()
	}
}

// SaveEntry writes a day's content locally and queues it for upload.
func (e *Engine) SaveEntry(day models.Day, content json.RawMessage) (*models.Entry, error) {
	return e.cache.UpsertEntry(e.userID, day, content)
}

// DeleteEntry flags a day for deletion; the sync pass removes it remotely.
func (e *Engine) DeleteEntry(day models.Day) error {
	return e.cache.MarkEntryDeleted(e.userID, day)
}

// Entry reads one day, or nil when it has no entry.
func (e *Engine) Entry(day models.Day) (*models.Entry, error) {
	return e.cache.GetEntry(e.userID, day)
}

// Entries lists all days with an entry, oldest first, excluding those
// awaiting deletion.
func (e *Engine) Entries() ([]models.Entry, error) {
	return e.cache.ActiveEntries(e.userID)
}

// EntryCountSince counts entries on or after the cutoff day. Plan limits
// are checked against it.
func (e *Engine) EntryCountSince(cutoff models.Day) (int, error) {
	return e.cache.CountEntriesSince(e.userID, cutoff)
}

// CreateTag mints a tag with a fresh id and queues it for upload.
func (e *Engine) CreateTag(name string, color models.TagColor) (*models.Tag, error) {
	if !models.ValidColor(color) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidColor, color)
	}
	return e.cache.UpsertTag(e.userID, uuid.NewString(), name, color)
}

// RenameTag changes a tag's name, keeping its color.
func (e *Engine) RenameTag(id, name string) (*models.Tag, error) {
	cur, err := e.cache.GetTag(id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("tag not found: %s", id)
	}
	return e.cache.UpsertTag(e.userID, id, name, cur.Color)
}

// RecolorTag changes a tag's color, keeping its name.
func (e *Engine) RecolorTag(id string, color models.TagColor) (*models.Tag, error) {
	if !models.ValidColor(color) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidColor, color)
	}
	cur, err := e.cache.GetTag(id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("tag not found: %s", id)
	}
	return e.cache.UpsertTag(e.userID, id, cur.Name, color)
}

// DeleteTag flags a tag for deletion. Its links become orphans; the tag
// sync pass sweeps them.
func (e *Engine) DeleteTag(id string) error {
	return e.cache.MarkTagDeleted(id)
}

// Tags lists the user's tags by name, excluding those awaiting deletion.
func (e *Engine) Tags() ([]models.Tag, error) {
	return e.cache.ActiveTags(e.userID)
}

// EntryTags lists the user's day-tag links ordered by day then position,
// excluding those awaiting deletion.
func (e *Engine) EntryTags() ([]models.EntryTag, error) {
	return e.cache.ActiveEntryTags(e.userID)
}

// TagEntry links a tag to a day, appended after the day's existing tags.
func (e *Engine) TagEntry(day models.Day, tagID string) (*models.EntryTag, error) {
	existing, err := e.cache.EntryTagsForDay(e.userID, day)
	if err != nil {
		return nil, err
	}
	next := 0
	for _, et := range existing {
		if et.OrderNo >= next {
			next = et.OrderNo + 1
		}
	}
	return e.cache.UpsertEntryTag(e.userID, day, tagID, next)
}

// UntagEntry flags a day-tag link for deletion.
func (e *Engine) UntagEntry(day models.Day, tagID string) error {
	return e.cache.MarkEntryTagDeleted(e.userID, day, tagID)
}

// TagsForDay resolves the tags linked to one day, in display order. Links
// whose tag is missing locally are skipped; the orphan sweep owns them.
func (e *Engine) TagsForDay(day models.Day) ([]models.Tag, error) {
	links, err := e.cache.EntryTagsForDay(e.userID, day)
	if err != nil {
		return nil, err
	}
	tags := make([]models.Tag, 0, len(links))
	for _, et := range links {
		t, err := e.cache.GetTag(et.TagID)
		if err != nil {
			return nil, err
		}
		if t == nil || t.SyncStatus == models.StatusPendingDelete {
			continue
		}
		tags = append(tags, *t)
	}
	return tags, nil
}
