package sync

import (
	"sync"

	"github.com/marcus/daybook/internal/models"
)

// Registry maps mounted UI units to refresh callbacks: per-day subscribers
// for open editors, plus list-level subscribers for the calendar/list views
// that care when whole days appear or disappear. It is passed to the
// orchestrator at construction; mounting and unmounting a view is
// register/unregister here, never global state.
type Registry struct {
	mu     sync.Mutex
	nextID int
	days   map[models.Day]map[int]func(models.Day)
	lists  map[int]func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		days:  map[models.Day]map[int]func(models.Day){},
		lists: map[int]func(){},
	}
}

// RegisterDay subscribes a callback for one day. The returned func
// unregisters it; a day's view calls it on unmount.
func (r *Registry) RegisterDay(day models.Day, fn func(models.Day)) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	if r.days[day] == nil {
		r.days[day] = map[int]func(models.Day){}
	}
	r.days[day][id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.days[day], id)
		if len(r.days[day]) == 0 {
			delete(r.days, day)
		}
	}
}

// RegisterList subscribes a callback for whole-list changes (days added or
// removed). The returned func unregisters it.
func (r *Registry) RegisterList(fn func()) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.lists[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.lists, id)
	}
}

// NotifyDay invokes the subscribers mounted for a day.
func (r *Registry) NotifyDay(day models.Day) {
	r.mu.Lock()
	var fns []func(models.Day)
	for _, fn := range r.days[day] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(day)
	}
}

// NotifyList invokes the list-level subscribers.
func (r *Registry) NotifyList() {
	r.mu.Lock()
	var fns []func()
	for _, fn := range r.lists {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
