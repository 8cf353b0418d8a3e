// Package notify is the in-process change-notification channel between the
// cache and the sync orchestrator. One coalescing signal per entity family:
// a burst of mutations produces a single wake-up.
package notify

// Family identifies a sync duty cycle.
type Family string

const (
	FamilyEntries Family = "entries"
	FamilyTags    Family = "tags"
)

// Hub fans cache mutation signals out to subscribers. Publishing never
// blocks; a signal already pending for a family is not duplicated.
type Hub struct {
	chans map[Family]chan struct{}
}

// NewHub creates a hub with a channel per family.
func NewHub() *Hub {
	return &Hub{
		chans: map[Family]chan struct{}{
			FamilyEntries: make(chan struct{}, 1),
			FamilyTags:    make(chan struct{}, 1),
		},
	}
}

// Changed signals that a row of the family entered a pending state.
func (h *Hub) Changed(f Family) {
	ch, ok := h.chans[f]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// C returns the family's signal channel. The orchestrator subscribes once
// at startup and drains it for the process lifetime.
func (h *Hub) C(f Family) <-chan struct{} {
	return h.chans[f]
}
