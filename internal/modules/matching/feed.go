// README: Driver-side matching feed: live pending rides and first-wins acceptance.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ridehail/internal/maps"
	"ridehail/internal/modules/profile"
	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

const (
	lookupTimeout = 3 * time.Second
	listLimit     = 100
)

type PassengerDirectory interface {
	Passenger(ctx context.Context, id types.ID) (*profile.Passenger, error)
}

type AcceptCommand struct {
	RideID   types.ID
	DriverID types.ID
}

// Handoff is what the winning driver needs to start the trip. It is built at
// acceptance time and never stored.
type Handoff struct {
	Ride      ride.Ride          `json:"ride"`
	Passenger *profile.Passenger `json:"passenger,omitempty"`
	Route     *maps.Route        `json:"route,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
}

type Feed struct {
	store      ride.Store
	passengers PassengerDirectory
	drivers    ride.DriverDirectory
	routes     maps.Gateway
	log        *slog.Logger
	now        func() time.Time
}

func NewFeed(store ride.Store, passengers PassengerDirectory, drivers ride.DriverDirectory, routes maps.Gateway, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		store:      store,
		passengers: passengers,
		drivers:    drivers,
		routes:     routes,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ListAvailable returns pending rides, newest first.
func (f *Feed) ListAvailable(ctx context.Context) ([]ride.Ride, error) {
	rides, err := f.store.ListByStatus(ctx, ride.StatusPending, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list pending rides: %w: %w", ride.ErrPersistence, err)
	}
	return rides, nil
}

// SubscribeAvailable pushes the pending list on every change until ctx is
// cancelled. Snapshots are bounded like ListAvailable.
func (f *Feed) SubscribeAvailable(ctx context.Context) (<-chan []ride.Ride, error) {
	ch, err := f.store.WatchStatus(ctx, ride.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("watch pending rides: %w: %w", ride.ErrPersistence, err)
	}
	out := make(chan []ride.Ride)
	go func() {
		defer close(out)
		for list := range ch {
			if len(list) > listLimit {
				list = list[:listLimit]
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Accept claims a pending ride for the driver. The store decides the winner;
// every other caller gets ride.ErrNoLongerAvailable.
func (f *Feed) Accept(ctx context.Context, cmd AcceptCommand) (*Handoff, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, fmt.Errorf("%w: ride id and driver id are required", ride.ErrValidation)
	}

	var warnings []string
	name, err := f.driverName(ctx, cmd.DriverID)
	if err != nil {
		f.log.Warn("driver profile lookup degraded", "driver_id", cmd.DriverID, "error", err)
		warnings = append(warnings, "driver profile unavailable")
	}

	driverID := cmd.DriverID
	accepted, err := f.store.Transition(ctx, ride.Transition{
		RideID:     cmd.RideID,
		From:       []ride.Status{ride.StatusPending},
		To:         ride.StatusAccepted,
		DriverID:   &driverID,
		DriverName: name,
		At:         f.now(),
	})
	switch {
	case errors.Is(err, ride.ErrConflict):
		return nil, ride.ErrNoLongerAvailable
	case errors.Is(err, ride.ErrNotFound):
		return nil, ride.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("accept ride: %w: %w", ride.ErrPersistence, err)
	}
	f.log.Info("ride accepted", "ride_id", accepted.ID, "driver_id", cmd.DriverID)

	h := &Handoff{Ride: *accepted, Warnings: warnings}
	f.enrich(ctx, h)
	return h, nil
}

func (f *Feed) driverName(ctx context.Context, id types.ID) (string, error) {
	if f.drivers == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	d, err := f.drivers.Driver(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

// enrich adds the passenger profile and trip route. Failures only add warnings.
func (f *Feed) enrich(ctx context.Context, h *Handoff) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if f.passengers != nil {
		p, err := f.passengers.Passenger(ctx, h.Ride.PassengerID)
		if err != nil {
			f.log.Warn("passenger profile lookup degraded", "ride_id", h.Ride.ID, "error", err)
			h.Warnings = append(h.Warnings, "passenger profile unavailable")
		} else {
			h.Passenger = p
		}
	}
	if h.Passenger == nil {
		h.Passenger = &profile.Passenger{ID: h.Ride.PassengerID, Name: h.Ride.PassengerName}
	}

	if f.routes != nil {
		route, err := f.routes.Route(ctx, h.Ride.PickupCoords, h.Ride.DestinationCoords)
		if err != nil {
			f.log.Warn("handoff route lookup failed", "ride_id", h.Ride.ID, "error", err)
			h.Warnings = append(h.Warnings, "route unavailable")
		} else {
			h.Route = route
		}
	}
}
