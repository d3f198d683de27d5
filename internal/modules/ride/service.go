// README: Driver-side transitions, ride queries and the pending-ride expiry monitor.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ridehail/internal/types"
)

const defaultHistoryLimit = 50

type DriverCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type Service struct {
	store          Store
	ratings        RatingHandoff
	log            *slog.Logger
	pendingTimeout time.Duration
	tick           time.Duration
	now            func() time.Time
}

// NewService builds the driver-side service. A pendingTimeout of zero
// disables expiry. ratings may be nil.
func NewService(store Store, ratings RatingHandoff, pendingTimeout, tick time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Service{
		store:          store,
		ratings:        ratings,
		log:            log,
		pendingTimeout: pendingTimeout,
		tick:           tick,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeError("load ride", err)
	}
	return r, nil
}

// ListHistory returns the passenger's rides, newest first.
func (s *Service) ListHistory(ctx context.Context, passengerID types.ID, limit int) ([]Ride, error) {
	if passengerID == "" {
		return nil, validationError("passenger id is required")
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	rides, err := s.store.ListByPassenger(ctx, passengerID, nil, limit)
	if err != nil {
		return nil, storeError("list rides", err)
	}
	return rides, nil
}

func (s *Service) Arrive(ctx context.Context, cmd DriverCommand) (*Ride, error) {
	return s.driverTransition(ctx, cmd, StatusArrived)
}

// Complete finishes the trip and opens the rating prompt. The handoff does
// not depend on a passenger watcher being alive on this instance.
func (s *Service) Complete(ctx context.Context, cmd DriverCommand) (*Ride, error) {
	r, err := s.driverTransition(ctx, cmd, StatusCompleted)
	if err != nil {
		return nil, err
	}
	if s.ratings != nil {
		if err := s.ratings.Begin(ctx, *r); err != nil {
			s.log.Warn("rating handoff failed", "ride_id", r.ID, "error", err)
		}
	}
	return r, nil
}

func (s *Service) driverTransition(ctx context.Context, cmd DriverCommand, to Status) (*Ride, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, validationError("ride id and driver id are required")
	}
	cur, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, storeError("load ride", err)
	}
	if cur.DriverID == nil || *cur.DriverID != cmd.DriverID {
		return nil, ErrForbidden
	}
	if !CanTransition(cur.Status, to) {
		return nil, fmt.Errorf("%w: cannot move a %s ride to %s", ErrInvalidTransition, cur.Status, to)
	}

	from := cur.Status
	driverID := cmd.DriverID
	updated, err := s.store.Transition(ctx, Transition{
		RideID:        cmd.RideID,
		From:          []Status{from},
		To:            to,
		RequireDriver: &driverID,
		At:            s.now(),
	})
	if errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("%w: ride changed status before it could move to %s", ErrInvalidTransition, to)
	}
	if err != nil {
		return nil, storeError("update ride", err)
	}
	s.log.Info("ride status changed", "ride_id", updated.ID, "driver_id", cmd.DriverID, "from", from, "to", to)
	return updated, nil
}

// ExpirePending cancels pending rides older than the timeout and returns
// how many it cancelled. Rides accepted meanwhile lose the race quietly.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	if s.pendingTimeout <= 0 {
		return 0, nil
	}
	pending, err := s.store.ListByStatus(ctx, StatusPending, 0)
	if err != nil {
		return 0, storeError("list pending rides", err)
	}
	cutoff := s.now().Add(-s.pendingTimeout)
	expired := 0
	for _, r := range pending {
		if r.CreatedAt.After(cutoff) {
			continue
		}
		_, err := s.store.Transition(ctx, Transition{
			RideID:       r.ID,
			From:         []Status{StatusPending},
			To:           StatusCancelled,
			CancelledBy:  CancelledBySystem,
			CancelReason: "no driver accepted in time",
			At:           s.now(),
		})
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, storeError("expire ride", err)
		}
		expired++
		s.log.Info("pending ride expired", "ride_id", r.ID, "passenger_id", r.PassengerID, "age", s.now().Sub(r.CreatedAt).String())
	}
	return expired, nil
}

// RunPendingExpiry sweeps on every tick until ctx is cancelled.
func (s *Service) RunPendingExpiry(ctx context.Context) {
	if s.pendingTimeout <= 0 {
		s.log.Info("pending ride expiry disabled")
		return
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpirePending(ctx); err != nil {
				s.log.Error("pending ride expiry failed", "error", err)
			}
		}
	}
}
