// Package sync drives bidirectional reconciliation between the local cache
// and the remote store: one duty cycle for entries, one for tags and
// entry-tags. Each pass pushes pending rows, resolves revision conflicts
// remote-wins, pulls the remote set once per process, and notifies the UI
// which days changed.
package sync

import (
	"context"

	"github.com/marcus/daybook/internal/models"
	"github.com/marcus/daybook/internal/remote"
)

// Backend is the remote store surface the orchestrator drives.
// *remote.Client implements it; tests substitute a fake.
type Backend interface {
	ListEntryHeads(ctx context.Context, userID string) ([]remote.EntryHead, error)
	GetEntry(ctx context.Context, userID, day string) (*remote.Entry, error)
	GetEntriesBatch(ctx context.Context, userID string, days []string) ([]remote.Entry, error)
	CreateEntry(ctx context.Context, e *remote.Entry) (*remote.Entry, error)
	UpdateEntry(ctx context.Context, e *remote.Entry) error
	DeleteEntry(ctx context.Context, userID, day string, revision int64) error

	ListTags(ctx context.Context, userID string) ([]remote.Tag, error)
	GetTag(ctx context.Context, userID, id string) (*remote.Tag, error)
	CreateTag(ctx context.Context, t *remote.Tag) (*remote.Tag, error)
	UpdateTag(ctx context.Context, t *remote.Tag) error
	DeleteTag(ctx context.Context, userID, id string, revision int64) error

	ListEntryTags(ctx context.Context, userID string) ([]remote.EntryTag, error)
	GetEntryTag(ctx context.Context, userID, day, tagID string) (*remote.EntryTag, error)
	CreateEntryTag(ctx context.Context, et *remote.EntryTag) (*remote.EntryTag, error)
	UpdateEntryTag(ctx context.Context, et *remote.EntryTag) error
	DeleteEntryTag(ctx context.Context, userID, day, tagID string, revision int64) error
}

// KeySource resolves the per-user content key.
type KeySource interface {
	Get(ctx context.Context, userID string) ([]byte, error)
}

// passState accumulates which UI units a pass must refresh. Days are
// de-duplicated and flushed once, after the pass.
type passState struct {
	days        map[models.Day]struct{}
	listChanged bool
}

func newPassState() *passState {
	return &passState{days: map[models.Day]struct{}{}}
}

func (p *passState) day(d models.Day) {
	p.days[d] = struct{}{}
}

// flush delivers the queued notifications to the registry.
func (p *passState) flush(r *Registry) {
	if p.listChanged {
		r.NotifyList()
	}
	for d := range p.days {
		r.NotifyDay(d)
	}
	p.days = map[models.Day]struct{}{}
	p.listChanged = false
}

// chunk splits days into batches of n for the bootstrap fetch.
func chunk(days []string, n int) [][]string {
	var out [][]string
	for len(days) > n {
		out = append(out, days[:n])
		days = days[n:]
	}
	if len(days) > 0 {
		out = append(out, days)
	}
	return out
}
