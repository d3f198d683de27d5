// README: Notices pushed to passengers as their ride changes.
package ride

import (
	"context"

	"ridehail/internal/modules/profile"
	"ridehail/internal/types"
)

type NoticeKind string

const (
	NoticeRideRequested    NoticeKind = "ride_requested"
	NoticeDriverAssigned   NoticeKind = "driver_assigned"
	NoticeDriverArrived    NoticeKind = "driver_arrived"
	NoticeRideCompleted    NoticeKind = "ride_completed"
	NoticeCancelledBySelf  NoticeKind = "ride_cancelled"
	NoticeCancelledByOther NoticeKind = "ride_cancelled_by_other"
	NoticeRideExpired      NoticeKind = "ride_expired"
)

var noticeMessages = map[NoticeKind]string{
	NoticeRideRequested:    "Looking for a driver near you.",
	NoticeDriverAssigned:   "A driver accepted your ride and is on the way.",
	NoticeDriverArrived:    "Your driver has arrived at the pickup point.",
	NoticeRideCompleted:    "You have arrived. How was your ride?",
	NoticeCancelledBySelf:  "Your ride was cancelled.",
	NoticeCancelledByOther: "Your ride was cancelled by the driver or support.",
	NoticeRideExpired:      "No driver accepted your request in time. Please try again.",
}

type Notice struct {
	Kind    NoticeKind     `json:"kind"`
	Message string         `json:"message"`
	Ride    Ride           `json:"ride"`
	Driver  *DriverDetails `json:"driver,omitempty"`
}

func newNotice(kind NoticeKind, r Ride, driver *DriverDetails) Notice {
	return Notice{Kind: kind, Message: noticeMessages[kind], Ride: r, Driver: driver}
}

// Notifier delivers notices to a passenger's live connections.
type Notifier interface {
	Notify(ctx context.Context, passengerID types.ID, n Notice)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, types.ID, Notice) {}

// DriverDetails is what the passenger sees about the assigned driver.
// Degraded marks placeholder values used when the profile lookup failed.
type DriverDetails struct {
	ID       types.ID `json:"id"`
	Name     string   `json:"name"`
	Rating   float64  `json:"rating"`
	Vehicle  string   `json:"vehicle"`
	Plate    string   `json:"plate"`
	Degraded bool     `json:"degraded,omitempty"`
}

func detailsFromProfile(d *profile.Driver) *DriverDetails {
	return &DriverDetails{
		ID:      d.ID,
		Name:    d.Name,
		Rating:  d.Rating,
		Vehicle: d.Vehicle(),
		Plate:   d.Plate,
	}
}

func placeholderDetails(r Ride) *DriverDetails {
	d := &DriverDetails{Name: r.DriverName, Vehicle: "Vehicle details unavailable", Degraded: true}
	if r.DriverID != nil {
		d.ID = *r.DriverID
	}
	if d.Name == "" {
		d.Name = "Your driver"
	}
	return d
}

// DriverDirectory resolves driver display details.
type DriverDirectory interface {
	Driver(ctx context.Context, id types.ID) (*profile.Driver, error)
}

// RatingHandoff starts the post-ride rating workflow.
type RatingHandoff interface {
	Begin(ctx context.Context, r Ride) error
}
