// README: Ride aggregate, closed value sets and the status state machine.
package ride

import (
	"fmt"
	"time"

	"ridehail/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusArrived   Status = "arrived"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Category string

const (
	CategoryComfort   Category = "comfort"
	CategoryExecutive Category = "executive"
)

// Categories lists the service tiers in display order.
var Categories = []Category{CategoryComfort, CategoryExecutive}

func (c Category) Valid() bool {
	return c == CategoryComfort || c == CategoryExecutive
}

// PaymentMethod is a label only; no payment is processed.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentWallet:
		return true
	}
	return false
}

// Cancellation actors recorded on the ride.
const (
	CancelledByPassenger = "passenger"
	CancelledBySystem    = "system"
)

type Ride struct {
	ID                 types.ID      `json:"id" firestore:"-"`
	PassengerID        types.ID      `json:"passengerId" firestore:"passengerId"`
	PassengerName      string        `json:"passengerName" firestore:"passengerName"`
	DriverID           *types.ID     `json:"driverId,omitempty" firestore:"driverId"`
	DriverName         string        `json:"driverName,omitempty" firestore:"driverName"`
	PickupAddress      string        `json:"pickupAddress" firestore:"pickupAddress"`
	DestinationAddress string        `json:"destinationAddress" firestore:"destinationAddress"`
	PickupCoords       types.Point   `json:"pickupCoords" firestore:"pickupCoords"`
	DestinationCoords  types.Point   `json:"destinationCoords" firestore:"destinationCoords"`
	Fare               types.Money   `json:"fare" firestore:"fare"`
	Category           Category      `json:"category" firestore:"category"`
	PaymentMethod      PaymentMethod `json:"paymentMethod" firestore:"paymentMethod"`
	Status             Status        `json:"status" firestore:"status"`
	StatusVersion      int           `json:"statusVersion" firestore:"statusVersion"`
	CreatedAt          time.Time     `json:"createdAt" firestore:"createdAt,serverTimestamp"`
	AcceptedAt         *time.Time    `json:"acceptedAt,omitempty" firestore:"acceptedAt"`
	ArrivedAt          *time.Time    `json:"arrivedAt,omitempty" firestore:"arrivedAt"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty" firestore:"completedAt"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty" firestore:"cancelledAt"`
	CancelledBy        string        `json:"cancelledBy,omitempty" firestore:"cancelledBy"`
	CancelReason       string        `json:"cancelReason,omitempty" firestore:"cancelReason"`
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusArrived, StatusCancelled},
	StatusArrived:  {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can follow from through one or more transitions.
func Reachable(from, to Status) bool {
	seen := map[Status]bool{}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range AllowedTransitions[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusArrived, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusArrived}

// Validate checks the record-level invariants of a persisted ride.
func (r *Ride) Validate() error {
	if r.PassengerID == "" {
		return validationError("passenger id is required")
	}
	if !r.Category.Valid() {
		return validationError("unknown category %q", r.Category)
	}
	if !r.PaymentMethod.Valid() {
		return validationError("unknown payment method %q", r.PaymentMethod)
	}
	if r.Fare.Amount < 0 {
		return validationError("fare must not be negative")
	}
	if !r.PickupCoords.Valid() || !r.DestinationCoords.Valid() {
		return validationError("coordinates out of range")
	}
	if !r.Status.Valid() {
		return validationError("unknown status %q", r.Status)
	}
	hasDriver := r.DriverID != nil && *r.DriverID != ""
	switch r.Status {
	case StatusPending:
		if hasDriver {
			return validationError("pending ride must not have a driver")
		}
	case StatusAccepted, StatusArrived, StatusCompleted:
		if !hasDriver {
			return validationError("%s ride must have a driver", r.Status)
		}
	case StatusCancelled:
		if hasDriver {
			return validationError("cancelled ride must not have a driver")
		}
	}
	return nil
}

// Transition is a conditional partial update: it commits only when the
// current status is one of From (and, if set, the assigned driver matches).
type Transition struct {
	RideID        types.ID
	From          []Status
	To            Status
	DriverID      *types.ID
	DriverName    string
	RequireDriver *types.ID
	CancelledBy   string
	CancelReason  string
	At            time.Time
}

func (t Transition) allows(cur Status) bool {
	for _, s := range t.From {
		if s == cur {
			return true
		}
	}
	return false
}

func (t Transition) String() string {
	return fmt.Sprintf("%s %v->%s", t.RideID, t.From, t.To)
}

// apply returns the ride after the transition, or ErrConflict when the
// precondition does not hold. It never mutates cur.
func (t Transition) apply(cur Ride) (Ride, error) {
	if !t.allows(cur.Status) {
		return cur, ErrConflict
	}
	if t.RequireDriver != nil && (cur.DriverID == nil || *cur.DriverID != *t.RequireDriver) {
		return cur, ErrConflict
	}
	next := cur
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next.Status = t.To
	next.StatusVersion = cur.StatusVersion + 1
	switch t.To {
	case StatusAccepted:
		if t.DriverID != nil {
			d := *t.DriverID
			next.DriverID = &d
		}
		next.DriverName = t.DriverName
		next.AcceptedAt = &at
	case StatusArrived:
		next.ArrivedAt = &at
	case StatusCompleted:
		next.CompletedAt = &at
	case StatusCancelled:
		// The assignment is released; ride_state_events keeps who accepted it.
		next.DriverID = nil
		next.DriverName = ""
		next.CancelledAt = &at
		next.CancelledBy = t.CancelledBy
		next.CancelReason = t.CancelReason
	}
	return next, nil
}
