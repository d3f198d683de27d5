// README: Lifecycle events emitted after every committed ride write.
package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridehail/internal/types"
)

type Event struct {
	Type        string      `json:"type"`
	RideID      types.ID    `json:"rideId"`
	PassengerID types.ID    `json:"passengerId"`
	DriverID    *types.ID   `json:"driverId,omitempty"`
	Status      Status      `json:"status"`
	Category    Category    `json:"category"`
	Fare        types.Money `json:"fare"`
	CancelledBy string      `json:"cancelledBy,omitempty"`
	At          time.Time   `json:"at"`
}

func newEvent(r Ride, at time.Time) Event {
	return Event{
		Type:        "ride." + string(r.Status),
		RideID:      r.ID,
		PassengerID: r.PassengerID,
		DriverID:    r.DriverID,
		Status:      r.Status,
		Category:    r.Category,
		Fare:        r.Fare,
		CancelledBy: r.CancelledBy,
		At:          at,
	}
}

// EventSink receives events after commit. Failures are logged, never
// propagated to the writer.
type EventSink interface {
	HandleRideEvent(ctx context.Context, e Event) error
}

// EventingStore decorates a Store and fans committed writes out to sinks.
type EventingStore struct {
	Store
	sinks []EventSink
	log   *slog.Logger
}

func NewEventingStore(inner Store, log *slog.Logger, sinks ...EventSink) *EventingStore {
	if log == nil {
		log = slog.Default()
	}
	return &EventingStore{Store: inner, sinks: sinks, log: log}
}

func (s *EventingStore) Create(ctx context.Context, r *Ride) error {
	if err := s.Store.Create(ctx, r); err != nil {
		return err
	}
	s.emit(ctx, newEvent(*r, r.CreatedAt))
	return nil
}

func (s *EventingStore) Transition(ctx context.Context, t Transition) (*Ride, error) {
	r, err := s.Store.Transition(ctx, t)
	if err != nil {
		return nil, err
	}
	at := time.Now().UTC()
	if !t.At.IsZero() {
		at = t.At
	}
	s.emit(ctx, newEvent(*r, at))
	return r, nil
}

func (s *EventingStore) emit(ctx context.Context, e Event) {
	for _, sink := range s.sinks {
		if err := sink.HandleRideEvent(ctx, e); err != nil {
			s.log.Warn("ride event sink failed", "event", e.Type, "ride_id", e.RideID, "error", err)
		}
	}
}

// Publisher is the subset of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a topic exchange with the event type as
// routing key.
type AMQPSink struct {
	pub      Publisher
	exchange string
}

func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange}
}

func (s *AMQPSink) HandleRideEvent(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ride event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pub.PublishWithContext(ctx, s.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s", e.RideID, e.Status),
		Timestamp:    e.At,
		Body:         body,
	})
}
