// README: Ride store contract shared by Firestore, Postgres and memory backends.
package ride

import (
	"context"

	"ridehail/internal/types"
)

// Store persists rides and pushes changes. Watch channels are closed when
// ctx is cancelled or the backend listener fails.
type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	// Transition returns ErrConflict when the precondition does not hold.
	Transition(ctx context.Context, t Transition) (*Ride, error)
	// ListByStatus returns rides newest first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Ride, error)
	// ListByPassenger returns rides newest first, optionally filtered by status.
	ListByPassenger(ctx context.Context, passengerID types.ID, statuses []Status, limit int) ([]Ride, error)
	// WatchRide emits the current record, then every committed change in order.
	WatchRide(ctx context.Context, id types.ID) (<-chan Ride, error)
	// WatchStatus emits the full newest-first list of rides in status on every change.
	WatchStatus(ctx context.Context, status Status) (<-chan []Ride, error)
}

// ListActiveByPassenger returns the passenger's non-terminal rides.
func ListActiveByPassenger(ctx context.Context, s Store, passengerID types.ID) ([]Ride, error) {
	return s.ListByPassenger(ctx, passengerID, ActiveStatuses, 0)
}

func newestFirst(a, b Ride) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	if a.ID > b.ID {
		return -1
	}
	if a.ID < b.ID {
		return 1
	}
	return 0
}
