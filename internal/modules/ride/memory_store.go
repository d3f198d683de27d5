// README: In-process ride store for tests and local development.
package ride

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ridehail/internal/types"
)

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[types.ID]Ride
	hub   *watchHub
	now   func() time.Time
	last  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides: map[types.ID]Ride{},
		hub:   newWatchHub(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, r *Ride) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = types.ID(uuid.NewString())
	// Creation times are strictly increasing so newest-first is stable.
	created := s.now()
	if !created.After(s.last) {
		created = s.last.Add(time.Nanosecond)
	}
	s.last = created
	r.CreatedAt = created
	s.rides[r.ID] = *r
	s.publishLocked(*r, "")
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Transition(ctx context.Context, t Transition) (*Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[t.RideID]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := t.apply(cur)
	if err != nil {
		return nil, err
	}
	s.rides[next.ID] = next
	s.publishLocked(next, cur.Status)
	return &next, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(r Ride) bool { return r.Status == status }, limit), nil
}

func (s *MemoryStore) ListByPassenger(ctx context.Context, passengerID types.ID, statuses []Status, limit int) ([]Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(r Ride) bool {
		if r.PassengerID != passengerID {
			return false
		}
		return len(statuses) == 0 || slices.Contains(statuses, r.Status)
	}, limit), nil
}

func (s *MemoryStore) WatchRide(ctx context.Context, id types.ID) (<-chan Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := s.hub.addRide(ctx, id)
	m.push(cur)
	return m.out, nil
}

func (s *MemoryStore) WatchStatus(ctx context.Context, status Status) (<-chan []Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.hub.addStatus(ctx, status)
	m.push(s.listLocked(func(r Ride) bool { return r.Status == status }, 0))
	return m.out, nil
}

// publishLocked runs under the write lock so subscribers see commits in order.
func (s *MemoryStore) publishLocked(r Ride, prev Status) {
	s.hub.publishRide(r)
	for _, st := range []Status{prev, r.Status} {
		if st == "" || !s.hub.watched(st) {
			continue
		}
		if st == prev && prev == r.Status {
			continue
		}
		s.hub.publishStatus(st, s.listLocked(func(x Ride) bool { return x.Status == st }, 0))
	}
}

func (s *MemoryStore) listLocked(match func(Ride) bool, limit int) []Ride {
	out := make([]Ride, 0)
	for _, r := range s.rides {
		if match(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, newestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
