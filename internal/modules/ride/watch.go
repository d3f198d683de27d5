// README: Per-subscriber FIFO delivery and the watcher registry used by the
// memory and Postgres stores.
package ride

import (
	"context"
	"sync"

	"ridehail/internal/types"
)

// mailbox decouples publishers from slow subscribers. push never blocks;
// values reach out in push order. With latestOnly set, queued values are
// replaced so a subscriber only sees the newest snapshot.
type mailbox[T any] struct {
	mu         sync.Mutex
	queue      []T
	latestOnly bool
	signal     chan struct{}
	out        chan T
	cancel     context.CancelFunc
}

func newMailbox[T any](ctx context.Context, latestOnly bool, onClose func()) *mailbox[T] {
	ctx, cancel := context.WithCancel(ctx)
	m := &mailbox[T]{
		latestOnly: latestOnly,
		signal:     make(chan struct{}, 1),
		out:        make(chan T),
		cancel:     cancel,
	}
	go m.run(ctx, onClose)
	return m
}

// stop unregisters the mailbox and closes out without waiting for the
// subscriber's context.
func (m *mailbox[T]) stop() {
	m.cancel()
}

func (m *mailbox[T]) push(v T) {
	m.mu.Lock()
	if m.latestOnly {
		m.queue = append(m.queue[:0], v)
	} else {
		m.queue = append(m.queue, v)
	}
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) run(ctx context.Context, onClose func()) {
	defer close(m.out)
	if onClose != nil {
		defer onClose()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
		}
		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			v := m.queue[0]
			var zero T
			m.queue[0] = zero
			m.queue = m.queue[1:]
			m.mu.Unlock()
			select {
			case m.out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

type watchHub struct {
	mu       sync.Mutex
	next     int
	rides    map[types.ID]map[int]*mailbox[Ride]
	statuses map[Status]map[int]*mailbox[[]Ride]
}

func newWatchHub() *watchHub {
	return &watchHub{
		rides:    map[types.ID]map[int]*mailbox[Ride]{},
		statuses: map[Status]map[int]*mailbox[[]Ride]{},
	}
}

func (h *watchHub) addRide(ctx context.Context, id types.ID) *mailbox[Ride] {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	key := h.next
	m := newMailbox[Ride](ctx, false, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.rides[id], key)
		if len(h.rides[id]) == 0 {
			delete(h.rides, id)
		}
	})
	if h.rides[id] == nil {
		h.rides[id] = map[int]*mailbox[Ride]{}
	}
	h.rides[id][key] = m
	return m
}

func (h *watchHub) addStatus(ctx context.Context, status Status) *mailbox[[]Ride] {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	key := h.next
	m := newMailbox[[]Ride](ctx, true, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.statuses[status], key)
		if len(h.statuses[status]) == 0 {
			delete(h.statuses, status)
		}
	})
	if h.statuses[status] == nil {
		h.statuses[status] = map[int]*mailbox[[]Ride]{}
	}
	h.statuses[status][key] = m
	return m
}

func (h *watchHub) publishRide(r Ride) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.rides[r.ID] {
		m.push(r)
	}
}

func (h *watchHub) watchingRide(id types.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rides[id]) > 0
}

func (h *watchHub) watched(status Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.statuses[status]) > 0
}

func (h *watchHub) publishStatus(status Status, list []Ride) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.statuses[status] {
		cp := make([]Ride, len(list))
		copy(cp, list)
		m.push(cp)
	}
}
