// README: Shared fixtures for ride package tests.
package ride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridehail/internal/types"
)

const waitTimeout = 2 * time.Second

func newPendingRide(passengerID types.ID) *Ride {
	return &Ride{
		PassengerID:        passengerID,
		PassengerName:      "Passenger " + string(passengerID),
		PickupAddress:      "Praça do Comércio, Lisboa",
		DestinationAddress: "Aeroporto Humberto Delgado, Lisboa",
		PickupCoords:       types.Point{Lat: 38.7075, Lng: -9.1364},
		DestinationCoords:  types.Point{Lat: 38.7742, Lng: -9.1342},
		Fare:               types.Money{Amount: 1975, Currency: "EUR"},
		Category:           CategoryComfort,
		PaymentMethod:      PaymentCard,
		Status:             StatusPending,
	}
}

func createCommand(passengerID types.ID) CreateCommand {
	r := newPendingRide(passengerID)
	return CreateCommand{
		PassengerID:        r.PassengerID,
		PassengerName:      r.PassengerName,
		PickupAddress:      r.PickupAddress,
		DestinationAddress: r.DestinationAddress,
		PickupCoords:       r.PickupCoords,
		DestinationCoords:  r.DestinationCoords,
		Fare:               r.Fare,
		Category:           r.Category,
		PaymentMethod:      r.PaymentMethod,
	}
}

func mustCreate(t *testing.T, s Store, passengerID types.ID) *Ride {
	t.Helper()
	r := newPendingRide(passengerID)
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func acceptTransition(rideID, driverID types.ID) Transition {
	d := driverID
	return Transition{
		RideID:     rideID,
		From:       []Status{StatusPending},
		To:         StatusAccepted,
		DriverID:   &d,
		DriverName: "Driver " + string(driverID),
	}
}

func driverTransition(rideID, driverID types.ID, from, to Status) Transition {
	d := driverID
	return Transition{RideID: rideID, From: []Status{from}, To: to, RequireDriver: &d}
}

func mustTransition(t *testing.T, s Store, tr Transition) *Ride {
	t.Helper()
	r, err := s.Transition(context.Background(), tr)
	if err != nil {
		t.Fatalf("transition %s: %v", tr, err)
	}
	return r
}

type recordingNotifier struct {
	ch chan Notice
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan Notice, 64)}
}

func (n *recordingNotifier) Notify(_ context.Context, _ types.ID, notice Notice) {
	n.ch <- notice
}

func (n *recordingNotifier) next(t *testing.T) Notice {
	t.Helper()
	select {
	case notice := <-n.ch:
		return notice
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for notice")
	}
	return Notice{}
}

func (n *recordingNotifier) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case notice := <-n.ch:
		t.Fatalf("unexpected notice %s", notice.Kind)
	case <-time.After(d):
	}
}

type recordingRatings struct {
	mu    sync.Mutex
	rides []types.ID
}

func (r *recordingRatings) Begin(_ context.Context, ride Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rides = append(r.rides, ride.ID)
	return nil
}

func (r *recordingRatings) started() []types.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ID(nil), r.rides...)
}

var errStoreDown = errors.New("store down")

// flakyStore fails selected operations while delegating the rest.
type flakyStore struct {
	Store
	mu             sync.Mutex
	failCreate     bool
	failTransition bool
	failGet        bool
}

func (s *flakyStore) set(f func(*flakyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

func (s *flakyStore) Create(ctx context.Context, r *Ride) error {
	s.mu.Lock()
	fail := s.failCreate
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.Store.Create(ctx, r)
}

func (s *flakyStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.Get(ctx, id)
}

func (s *flakyStore) Transition(ctx context.Context, t Transition) (*Ride, error) {
	s.mu.Lock()
	fail := s.failTransition
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.Transition(ctx, t)
}

func receiveRide(t *testing.T, ch <-chan Ride) Ride {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatal("ride channel closed")
		}
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for ride update")
	}
	return Ride{}
}

func receiveList(t *testing.T, ch <-chan []Ride) []Ride {
	t.Helper()
	select {
	case list, ok := <-ch:
		if !ok {
			t.Fatal("feed channel closed")
		}
		return list
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for feed snapshot")
	}
	return nil
}
