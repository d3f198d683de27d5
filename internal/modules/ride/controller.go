// README: Passenger-side ride lifecycle: create, watch, cancel, resume and
// reactions to driver-driven status changes.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ridehail/internal/modules/session"
	"ridehail/internal/types"
)

const driverLookupTimeout = 3 * time.Second

type CreateCommand struct {
	PassengerID        types.ID
	PassengerName      string
	PickupAddress      string
	DestinationAddress string
	PickupCoords       types.Point
	DestinationCoords  types.Point
	Fare               types.Money
	Category           Category
	PaymentMethod      PaymentMethod
}

type CancelCommand struct {
	RideID      types.ID
	PassengerID types.ID
	Reason      string
}

// ActiveRide is a resumed ride plus the last driver details shown for it.
type ActiveRide struct {
	Ride   Ride           `json:"ride"`
	Driver *DriverDetails `json:"driver,omitempty"`
}

// Subscription is a running observer of one ride.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Subscription) Stop() {
	s.cancel()
}

// Done is closed once no further callbacks will run.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

type tracker struct {
	rideID     types.ID
	last       Status
	cancelling bool
	sub        *Subscription
}

type Controller struct {
	store    Store
	pointers pointerStore
	drivers  DriverDirectory
	ratings  RatingHandoff
	notifier Notifier
	log      *slog.Logger

	mu       sync.Mutex
	tracked  map[types.ID]*tracker
	creating map[types.ID]bool
}

func NewController(store Store, sessions session.Store, drivers DriverDirectory, ratings RatingHandoff, notifier Notifier, log *slog.Logger) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		store:    store,
		pointers: pointerStore{kv: sessions},
		drivers:  drivers,
		ratings:  ratings,
		notifier: notifier,
		log:      log,
		tracked:  map[types.ID]*tracker{},
		creating: map[types.ID]bool{},
	}
}

// Create persists a pending ride for a passenger without an active one.
func (c *Controller) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	r := &Ride{
		PassengerID:        cmd.PassengerID,
		PassengerName:      cmd.PassengerName,
		PickupAddress:      cmd.PickupAddress,
		DestinationAddress: cmd.DestinationAddress,
		PickupCoords:       cmd.PickupCoords,
		DestinationCoords:  cmd.DestinationCoords,
		Fare:               cmd.Fare,
		Category:           cmd.Category,
		PaymentMethod:      cmd.PaymentMethod,
		Status:             StatusPending,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.PickupAddress == "" || r.DestinationAddress == "" {
		return nil, validationError("pickup and destination are required")
	}

	c.mu.Lock()
	if c.creating[cmd.PassengerID] {
		c.mu.Unlock()
		return nil, validationError("a ride request is already in progress")
	}
	c.creating[cmd.PassengerID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.creating, cmd.PassengerID)
		c.mu.Unlock()
	}()

	if err := c.ensureNoActiveRide(ctx, cmd.PassengerID); err != nil {
		return nil, err
	}
	if err := c.store.Create(ctx, r); err != nil {
		return nil, storeError("create ride", err)
	}
	if err := c.pointers.put(ctx, r.PassengerID, ActivePointer{RideID: r.ID}); err != nil {
		c.log.Warn("active ride pointer not saved", "ride_id", r.ID, "error", err)
	}
	c.track(ctx, *r)
	c.log.Info("ride requested", "ride_id", r.ID, "passenger_id", r.PassengerID, "fare", r.Fare.String())
	c.notifier.Notify(ctx, r.PassengerID, newNotice(NoticeRideRequested, *r, nil))
	return r, nil
}

func (c *Controller) ensureNoActiveRide(ctx context.Context, passengerID types.ID) error {
	c.mu.Lock()
	t := c.tracked[passengerID]
	c.mu.Unlock()
	if t != nil && !t.last.IsTerminal() {
		return validationError("passenger already has an active ride")
	}

	ptr, err := c.pointers.get(ctx, passengerID)
	if err != nil {
		c.log.Warn("active ride pointer unreadable", "passenger_id", passengerID, "error", err)
	}
	if ptr != nil {
		cur, err := c.store.Get(ctx, ptr.RideID)
		switch {
		case errors.Is(err, ErrNotFound):
			c.clearPointer(ctx, passengerID)
		case err != nil:
			return storeError("check active ride", err)
		case !cur.Status.IsTerminal():
			return validationError("passenger already has an active ride")
		default:
			c.clearPointer(ctx, passengerID)
		}
	}

	active, err := ListActiveByPassenger(ctx, c.store, passengerID)
	if err != nil {
		return storeError("check active ride", err)
	}
	if len(active) > 0 {
		return validationError("passenger already has an active ride")
	}
	return nil
}

// Subscribe calls onChange for every new status of the ride, in commit
// order. Repeated deliveries of a status and regressions are dropped.
func (c *Controller) Subscribe(ctx context.Context, rideID types.ID, onChange func(Ride)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := c.store.WatchRide(subCtx, rideID)
	if err != nil {
		cancel()
		return nil, storeError("watch ride", err)
	}
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		var last Status
		for r := range ch {
			if r.Status == last {
				continue
			}
			if last != "" && !Reachable(last, r.Status) {
				c.log.Warn("dropping out-of-order ride update", "ride_id", r.ID, "from", last, "to", r.Status)
				continue
			}
			last = r.Status
			onChange(r)
		}
	}()
	return sub, nil
}

// Cancel moves a pending or accepted ride to cancelled on behalf of its passenger.
func (c *Controller) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.PassengerID == "" {
		return nil, validationError("ride id and passenger id are required")
	}

	c.mu.Lock()
	t := c.tracked[cmd.PassengerID]
	if t != nil && t.rideID != cmd.RideID {
		t = nil
	}
	if t != nil && !CanTransition(t.last, StatusCancelled) {
		last := t.last
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot cancel a ride that is %s", ErrInvalidTransition, last)
	}
	c.mu.Unlock()

	cur, err := c.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, storeError("load ride", err)
	}
	if cur.PassengerID != cmd.PassengerID {
		return nil, ErrForbidden
	}
	if !CanTransition(cur.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel a ride that is %s", ErrInvalidTransition, cur.Status)
	}

	c.setCancelling(t, true)
	updated, err := c.store.Transition(ctx, Transition{
		RideID:       cmd.RideID,
		From:         []Status{StatusPending, StatusAccepted},
		To:           StatusCancelled,
		CancelledBy:  CancelledByPassenger,
		CancelReason: cmd.Reason,
	})
	if err != nil {
		c.setCancelling(t, false)
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: ride changed status before it could be cancelled", ErrInvalidTransition)
		}
		return nil, storeError("cancel ride", err)
	}
	c.log.Info("ride cancelled", "ride_id", updated.ID, "passenger_id", updated.PassengerID, "reason", cmd.Reason)

	// The watcher drops its own copy of this update once t.last has moved.
	if t != nil {
		c.react(t, *updated)
	} else {
		c.clearPointer(ctx, updated.PassengerID)
		c.notifier.Notify(ctx, updated.PassengerID, newNotice(NoticeCancelledBySelf, *updated, nil))
	}
	return updated, nil
}

// Resume restores the passenger's active ride after a reload, re-fetching
// the authoritative record and resubscribing. ErrNotFound means there is
// no active ride.
func (c *Controller) Resume(ctx context.Context, passengerID types.ID) (*ActiveRide, error) {
	if passengerID == "" {
		return nil, validationError("passenger id is required")
	}
	ptr, err := c.pointers.get(ctx, passengerID)
	if err != nil {
		c.log.Warn("active ride pointer unreadable", "passenger_id", passengerID, "error", err)
		ptr = nil
	}

	var cur *Ride
	if ptr != nil {
		cur, err = c.store.Get(ctx, ptr.RideID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, storeError("load ride", err)
		}
		if cur == nil || cur.Status.IsTerminal() {
			c.clearPointer(ctx, passengerID)
			cur = nil
		}
	}
	if cur == nil {
		active, err := ListActiveByPassenger(ctx, c.store, passengerID)
		if err != nil {
			return nil, storeError("load active ride", err)
		}
		if len(active) == 0 {
			return nil, ErrNotFound
		}
		cur = &active[0]
	}

	out := &ActiveRide{Ride: *cur}
	if ptr != nil && ptr.RideID == cur.ID {
		out.Driver = ptr.LastKnownDriver
	}
	if out.Driver == nil && cur.DriverID != nil {
		out.Driver = c.driverDetails(ctx, *cur)
	}
	if err := c.pointers.put(ctx, passengerID, ActivePointer{RideID: cur.ID, LastKnownDriver: out.Driver}); err != nil {
		c.log.Warn("active ride pointer not saved", "ride_id", cur.ID, "error", err)
	}

	c.mu.Lock()
	t := c.tracked[passengerID]
	c.mu.Unlock()
	if t == nil || t.rideID != cur.ID {
		c.track(ctx, *cur)
	}
	return out, nil
}

// Close stops every ride watcher.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.tracked {
		if t.sub != nil {
			t.sub.Stop()
		}
		delete(c.tracked, id)
	}
}

// Tracking reports the ride and last seen status watched for a passenger.
func (c *Controller) Tracking(passengerID types.ID) (types.ID, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tracked[passengerID]
	if t == nil {
		return "", "", false
	}
	return t.rideID, t.last, true
}

// track watches the ride beyond the lifetime of the request that created it.
func (c *Controller) track(ctx context.Context, r Ride) {
	t := &tracker{rideID: r.ID, last: r.Status}
	c.mu.Lock()
	if old := c.tracked[r.PassengerID]; old != nil && old.sub != nil {
		old.sub.Stop()
	}
	c.tracked[r.PassengerID] = t
	c.mu.Unlock()

	sub, err := c.Subscribe(context.WithoutCancel(ctx), r.ID, func(next Ride) {
		c.react(t, next)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warn("ride watch not started", "ride_id", r.ID, "error", err)
		if c.tracked[r.PassengerID] == t {
			delete(c.tracked, r.PassengerID)
		}
		return
	}
	if c.tracked[r.PassengerID] != t {
		sub.Stop()
		return
	}
	t.sub = sub
}

func (c *Controller) react(t *tracker, r Ride) {
	ctx := context.Background()

	c.mu.Lock()
	if c.tracked[r.PassengerID] != t || r.Status == t.last || !Reachable(t.last, r.Status) {
		c.mu.Unlock()
		return
	}
	t.last = r.Status
	selfCancel := t.cancelling
	c.mu.Unlock()

	switch r.Status {
	case StatusAccepted:
		details := c.driverDetails(ctx, r)
		if err := c.pointers.put(ctx, r.PassengerID, ActivePointer{RideID: r.ID, LastKnownDriver: details}); err != nil {
			c.log.Warn("active ride pointer not saved", "ride_id", r.ID, "error", err)
		}
		c.notifier.Notify(ctx, r.PassengerID, newNotice(NoticeDriverAssigned, r, details))
	case StatusArrived:
		c.notifier.Notify(ctx, r.PassengerID, newNotice(NoticeDriverArrived, r, nil))
	case StatusCompleted:
		if c.ratings != nil {
			if err := c.ratings.Begin(ctx, r); err != nil {
				c.log.Warn("rating handoff failed", "ride_id", r.ID, "error", err)
			}
		}
		c.finish(ctx, t, r)
		c.notifier.Notify(ctx, r.PassengerID, newNotice(NoticeRideCompleted, r, nil))
	case StatusCancelled:
		c.finish(ctx, t, r)
		c.notifier.Notify(ctx, r.PassengerID, newNotice(cancelNoticeKind(r, selfCancel), r, nil))
	}
}

func cancelNoticeKind(r Ride, selfCancel bool) NoticeKind {
	switch {
	case selfCancel || r.CancelledBy == CancelledByPassenger:
		return NoticeCancelledBySelf
	case r.CancelledBy == CancelledBySystem:
		return NoticeRideExpired
	default:
		return NoticeCancelledByOther
	}
}

func (c *Controller) finish(ctx context.Context, t *tracker, r Ride) {
	c.mu.Lock()
	if c.tracked[r.PassengerID] == t {
		delete(c.tracked, r.PassengerID)
	}
	sub := t.sub
	c.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
	c.clearPointer(ctx, r.PassengerID)
}

func (c *Controller) setCancelling(t *tracker, v bool) {
	if t == nil {
		return
	}
	c.mu.Lock()
	t.cancelling = v
	c.mu.Unlock()
}

func (c *Controller) clearPointer(ctx context.Context, passengerID types.ID) {
	if err := c.pointers.clear(ctx, passengerID); err != nil {
		c.log.Warn("active ride pointer not cleared", "passenger_id", passengerID, "error", err)
	}
}

// driverDetails never fails: lookup errors yield degraded placeholders.
func (c *Controller) driverDetails(ctx context.Context, r Ride) *DriverDetails {
	if r.DriverID == nil || c.drivers == nil {
		return placeholderDetails(r)
	}
	ctx, cancel := context.WithTimeout(ctx, driverLookupTimeout)
	defer cancel()
	d, err := c.drivers.Driver(ctx, *r.DriverID)
	if err != nil {
		c.log.Warn("driver lookup degraded", "ride_id", r.ID, "driver_id", *r.DriverID, "error", err)
		return placeholderDetails(r)
	}
	return detailsFromProfile(d)
}
