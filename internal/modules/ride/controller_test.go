// README: Controller tests: single active ride, notices, cancel and resume.
package ride

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridehail/internal/modules/profile"
	"ridehail/internal/modules/session"
	"ridehail/internal/types"
)

type controllerFixture struct {
	ctrl     *Controller
	store    *MemoryStore
	notices  *recordingNotifier
	sessions *session.MemoryStore
	drivers  *profile.MemoryStore
	ratings  *recordingRatings
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		store:    NewMemoryStore(),
		notices:  newRecordingNotifier(),
		sessions: session.NewMemoryStore(),
		drivers:  profile.NewMemoryStore(),
		ratings:  &recordingRatings{},
	}
	f.ctrl = NewController(f.store, f.sessions, f.drivers, f.ratings, f.notices, nil)
	t.Cleanup(f.ctrl.Close)
	return f
}

func (f *controllerFixture) create(t *testing.T, passengerID types.ID) *Ride {
	t.Helper()
	r, err := f.ctrl.Create(context.Background(), createCommand(passengerID))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := f.notices.next(t); n.Kind != NoticeRideRequested {
		t.Fatalf("expected %s, got %s", NoticeRideRequested, n.Kind)
	}
	return r
}

func (f *controllerFixture) pointer(t *testing.T, passengerID types.ID) *ActivePointer {
	t.Helper()
	ptr, err := f.ctrl.pointers.get(context.Background(), passengerID)
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	return ptr
}

func TestControllerCreatePersistsPendingRide(t *testing.T) {
	f := newControllerFixture(t)
	r := f.create(t, "p1")

	if r.ID == "" || r.Status != StatusPending || r.DriverID != nil {
		t.Fatalf("unexpected ride: %+v", r)
	}
	stored, err := f.store.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Fare.Amount != 1975 || stored.CreatedAt.IsZero() {
		t.Fatalf("stored ride: %+v", stored)
	}
	if ptr := f.pointer(t, "p1"); ptr == nil || ptr.RideID != r.ID {
		t.Fatalf("active pointer not written: %+v", ptr)
	}
}

func TestControllerCreateRejectsInvalidInput(t *testing.T) {
	f := newControllerFixture(t)
	cases := map[string]func(*CreateCommand){
		"missing passenger": func(c *CreateCommand) { c.PassengerID = "" },
		"unknown category":  func(c *CreateCommand) { c.Category = "economy" },
		"unknown payment":   func(c *CreateCommand) { c.PaymentMethod = "cheque" },
		"negative fare":     func(c *CreateCommand) { c.Fare.Amount = -100 },
		"missing pickup":    func(c *CreateCommand) { c.PickupAddress = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := createCommand("p_invalid")
			mutate(&cmd)
			if _, err := f.ctrl.Create(context.Background(), cmd); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestControllerSingleActiveRide(t *testing.T) {
	f := newControllerFixture(t)
	first := f.create(t, "p_single")

	if _, err := f.ctrl.Create(context.Background(), createCommand("p_single")); !errors.Is(err, ErrValidation) {
		t.Fatalf("second create: expected ErrValidation, got %v", err)
	}

	if _, err := f.ctrl.Cancel(context.Background(), CancelCommand{RideID: first.ID, PassengerID: "p_single"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := f.notices.next(t); n.Kind != NoticeCancelledBySelf {
		t.Fatalf("expected self-cancel notice, got %s", n.Kind)
	}

	second := f.create(t, "p_single")
	if second.ID == first.ID {
		t.Fatal("expected a new ride id")
	}
}

func TestControllerActiveRideFromAnotherInstance(t *testing.T) {
	f := newControllerFixture(t)
	// Written by another API instance: no local tracking, no pointer.
	mustCreate(t, f.store, "p_elsewhere")

	if _, err := f.ctrl.Create(context.Background(), createCommand("p_elsewhere")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestControllerDriverLifecycleNotices(t *testing.T) {
	f := newControllerFixture(t)
	if err := f.drivers.UpsertDriver(context.Background(), profile.Driver{
		ID: "d1", Name: "Ana", Rating: 4.9, VehicleMake: "Toyota", VehicleModel: "Corolla", VehicleColor: "Grey", Plate: "AA-00-BB",
	}); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	r := f.create(t, "p_life")

	mustTransition(t, f.store, acceptTransition(r.ID, "d1"))
	n := f.notices.next(t)
	if n.Kind != NoticeDriverAssigned || n.Driver == nil {
		t.Fatalf("expected driver assigned notice, got %+v", n)
	}
	if n.Driver.Name != "Ana" || n.Driver.Vehicle != "Grey Toyota Corolla" || n.Driver.Degraded {
		t.Fatalf("driver details: %+v", n.Driver)
	}
	if ptr := f.pointer(t, "p_life"); ptr == nil || ptr.LastKnownDriver == nil || ptr.LastKnownDriver.Plate != "AA-00-BB" {
		t.Fatalf("pointer missing driver: %+v", ptr)
	}

	mustTransition(t, f.store, driverTransition(r.ID, "d1", StatusAccepted, StatusArrived))
	if n := f.notices.next(t); n.Kind != NoticeDriverArrived {
		t.Fatalf("expected arrived notice, got %s", n.Kind)
	}

	mustTransition(t, f.store, driverTransition(r.ID, "d1", StatusArrived, StatusCompleted))
	if n := f.notices.next(t); n.Kind != NoticeRideCompleted {
		t.Fatalf("expected completed notice, got %s", n.Kind)
	}
	if got := f.ratings.started(); len(got) != 1 || got[0] != r.ID {
		t.Fatalf("rating handoff: %v", got)
	}
	if ptr := f.pointer(t, "p_life"); ptr != nil {
		t.Fatalf("pointer not cleared: %+v", ptr)
	}
	if _, _, ok := f.ctrl.Tracking("p_life"); ok {
		t.Fatal("ride still tracked after completion")
	}
}

func TestControllerDegradedDriverLookup(t *testing.T) {
	f := newControllerFixture(t)
	r := f.create(t, "p_degraded")

	mustTransition(t, f.store, acceptTransition(r.ID, "d_unknown"))
	n := f.notices.next(t)
	if n.Kind != NoticeDriverAssigned {
		t.Fatalf("expected driver assigned, got %s", n.Kind)
	}
	if n.Driver == nil || !n.Driver.Degraded || n.Driver.Name != "Driver d_unknown" || n.Driver.ID != "d_unknown" {
		t.Fatalf("expected degraded placeholder, got %+v", n.Driver)
	}
}

func TestControllerCancelRules(t *testing.T) {
	t.Run("accepted ride can be cancelled", func(t *testing.T) {
		f := newControllerFixture(t)
		r := f.create(t, "p_c1")
		mustTransition(t, f.store, acceptTransition(r.ID, "d1"))
		f.notices.next(t)

		got, err := f.ctrl.Cancel(context.Background(), CancelCommand{RideID: r.ID, PassengerID: "p_c1", Reason: "changed plans"})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != StatusCancelled || got.CancelledBy != CancelledByPassenger || got.CancelReason != "changed plans" {
			t.Fatalf("cancelled ride: %+v", got)
		}
		stored, _ := f.store.Get(context.Background(), r.ID)
		if stored.DriverID != nil || stored.DriverName != "" {
			t.Fatalf("cancelled ride still has driver %v %q", stored.DriverID, stored.DriverName)
		}
		if err := stored.Validate(); err != nil {
			t.Fatalf("cancelled ride fails validation: %v", err)
		}
		if n := f.notices.next(t); n.Kind != NoticeCancelledBySelf {
			t.Fatalf("expected self-cancel, got %s", n.Kind)
		}
		f.notices.expectNone(t, 50*time.Millisecond)
	})

	t.Run("arrived ride cannot be cancelled", func(t *testing.T) {
		f := newControllerFixture(t)
		r := f.create(t, "p_c2")
		mustTransition(t, f.store, acceptTransition(r.ID, "d1"))
		f.notices.next(t)
		mustTransition(t, f.store, driverTransition(r.ID, "d1", StatusAccepted, StatusArrived))
		f.notices.next(t)

		if _, err := f.ctrl.Cancel(context.Background(), CancelCommand{RideID: r.ID, PassengerID: "p_c2"}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		stored, _ := f.store.Get(context.Background(), r.ID)
		if stored.Status != StatusArrived {
			t.Fatalf("status changed: %s", stored.Status)
		}
	})

	t.Run("cancel after cancel is rejected", func(t *testing.T) {
		f := newControllerFixture(t)
		r := f.create(t, "p_c3")
		if _, err := f.ctrl.Cancel(context.Background(), CancelCommand{RideID: r.ID, PassengerID: "p_c3"}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		f.notices.next(t)
		if _, err := f.ctrl.Cancel(context.Background(), CancelCommand{RideID: r.ID, PassengerID: "p_c3"}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("other passenger is forbidden", func(t *testing.T) {
		f := newControllerFixture(t)
		r := f.create(t, "p_c4")
		if _, err := f.ctrl.Cancel(context.Background(), CancelCommand{RideID: r.ID, PassengerID: "p_intruder"}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestControllerCancelledByOthers(t *testing.T) {
	cases := []struct {
		name string
		by   string
		want NoticeKind
	}{
		{"support", "support", NoticeCancelledByOther},
		{"timeout", CancelledBySystem, NoticeRideExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newControllerFixture(t)
			r := f.create(t, "p_other_"+types.ID(tc.name))
			mustTransition(t, f.store, Transition{RideID: r.ID, From: []Status{StatusPending}, To: StatusCancelled, CancelledBy: tc.by})
			n := f.notices.next(t)
			if n.Kind != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, n.Kind)
			}
			if n.Message == noticeMessages[NoticeCancelledBySelf] {
				t.Fatal("cancel-by-other notice must differ from self-cancel")
			}
		})
	}
}

func TestControllerPersistenceFailureLeavesStateUntouched(t *testing.T) {
	mem := NewMemoryStore()
	flaky := &flakyStore{Store: mem}
	sessions := session.NewMemoryStore()
	notices := newRecordingNotifier()
	ctrl := NewController(flaky, sessions, nil, nil, notices, nil)
	t.Cleanup(ctrl.Close)

	flaky.set(func(s *flakyStore) { s.failCreate = true })
	if _, err := ctrl.Create(context.Background(), createCommand("p_down")); !errors.Is(err, ErrPersistence) || !errors.Is(err, errStoreDown) {
		t.Fatalf("expected wrapped ErrPersistence, got %v", err)
	}
	if _, _, ok := ctrl.Tracking("p_down"); ok {
		t.Fatal("failed create must not track a ride")
	}
	if _, ok, _ := sessions.Get(context.Background(), activeRideKey("p_down")); ok {
		t.Fatal("failed create must not write a pointer")
	}
	notices.expectNone(t, 20*time.Millisecond)

	flaky.set(func(s *flakyStore) { s.failCreate = false })
	r, err := ctrl.Create(context.Background(), createCommand("p_down"))
	if err != nil {
		t.Fatalf("create after recovery: %v", err)
	}
	notices.next(t)

	flaky.set(func(s *flakyStore) { s.failTransition = true })
	if _, err := ctrl.Cancel(context.Background(), CancelCommand{RideID: r.ID, PassengerID: "p_down"}); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, st, _ := ctrl.Tracking("p_down"); st != StatusPending {
		t.Fatalf("local status changed to %s", st)
	}
}

func TestControllerResume(t *testing.T) {
	f := newControllerFixture(t)
	r := f.create(t, "p_resume")
	mustTransition(t, f.store, acceptTransition(r.ID, "d1"))
	f.notices.next(t)

	// A fresh controller shares the session store, as after a reload.
	fresh := NewController(f.store, f.sessions, f.drivers, f.ratings, f.notices, nil)
	t.Cleanup(fresh.Close)

	got, err := fresh.Resume(context.Background(), "p_resume")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Ride.ID != r.ID || got.Ride.Status != StatusAccepted {
		t.Fatalf("resumed ride: %+v", got.Ride)
	}
	if got.Driver == nil || !got.Driver.Degraded {
		t.Fatalf("expected cached degraded driver details, got %+v", got.Driver)
	}
	if id, st, ok := fresh.Tracking("p_resume"); !ok || id != r.ID || st != StatusAccepted {
		t.Fatalf("resume did not resubscribe: %s %s %v", id, st, ok)
	}

	f.ctrl.Close()
	mustTransition(t, f.store, driverTransition(r.ID, "d1", StatusAccepted, StatusArrived))
	if n := f.notices.next(t); n.Kind != NoticeDriverArrived {
		t.Fatalf("expected arrived notice after resume, got %s", n.Kind)
	}
}

func TestControllerResumeClearsTerminalPointer(t *testing.T) {
	f := newControllerFixture(t)
	r := mustCreate(t, f.store, "p_stale")
	if err := f.ctrl.pointers.put(context.Background(), "p_stale", ActivePointer{RideID: r.ID}); err != nil {
		t.Fatalf("seed pointer: %v", err)
	}
	mustTransition(t, f.store, Transition{RideID: r.ID, From: []Status{StatusPending}, To: StatusCancelled, CancelledBy: CancelledBySystem})

	if _, err := f.ctrl.Resume(context.Background(), "p_stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ptr := f.pointer(t, "p_stale"); ptr != nil {
		t.Fatalf("terminal pointer not cleared: %+v", ptr)
	}
}

func TestSubscribeDropsDuplicatesAndStops(t *testing.T) {
	f := newControllerFixture(t)
	r := mustCreate(t, f.store, "p_sub")

	seen := make(chan Status, 8)
	sub, err := f.ctrl.Subscribe(context.Background(), r.ID, func(x Ride) { seen <- x.Status })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mustTransition(t, f.store, acceptTransition(r.ID, "d1"))

	for _, want := range []Status{StatusPending, StatusAccepted} {
		select {
		case got := <-seen:
			if got != want {
				t.Fatalf("got %s, want %s", got, want)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	sub.Stop()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not stop")
	}
	mustTransition(t, f.store, driverTransition(r.ID, "d1", StatusAccepted, StatusArrived))
	select {
	case st := <-seen:
		t.Fatalf("callback after Stop: %s", st)
	case <-time.After(50 * time.Millisecond):
	}
}
