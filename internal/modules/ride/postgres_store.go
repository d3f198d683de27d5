// README: Ride store backed by PostgreSQL; change push via LISTEN/NOTIFY.
package ride

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/types"
)

const notifyChannel = "ride_changes"

// maxNotifyPayload keeps payloads under the 8000 byte NOTIFY limit.
const maxNotifyPayload = 7900

// changeNotice is the NOTIFY payload. Ride carries the committed row so
// listeners see every status even when later commits land first; it is
// omitted only when the row would not fit.
type changeNotice struct {
	ID      types.ID `json:"id"`
	Prev    Status   `json:"prev,omitempty"`
	Next    Status   `json:"next"`
	Version int      `json:"version"`
	Ride    *Ride    `json:"ride,omitempty"`
}

const rideColumns = `id, passenger_id, passenger_name, driver_id, driver_name,
	pickup_address, destination_address,
	pickup_lat, pickup_lng, destination_lat, destination_lng,
	fare_amount, fare_currency, category, payment_method,
	status, status_version, created_at,
	accepted_at, arrived_at, completed_at, cancelled_at,
	cancelled_by, cancel_reason`

type PostgresStore struct {
	db        *pgxpool.Pool
	hub       *watchHub
	log       *slog.Logger
	listening chan struct{}
	ready     sync.Once
}

func NewPostgresStore(db *pgxpool.Pool, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{db: db, hub: newWatchHub(), log: log, listening: make(chan struct{})}
}

// Listening is closed once the first LISTEN has been issued.
func (s *PostgresStore) Listening() <-chan struct{} {
	return s.listening
}

func (s *PostgresStore) Create(ctx context.Context, r *Ride) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id := types.ID(uuid.NewString())
	err = tx.QueryRow(ctx, `
		INSERT INTO rides (
			id, passenger_id, passenger_name, driver_id, driver_name,
			pickup_address, destination_address,
			pickup_lat, pickup_lng, destination_lat, destination_lng,
			fare_amount, fare_currency, category, payment_method,
			status, status_version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17
		)
		RETURNING created_at`,
		string(id),
		string(r.PassengerID),
		r.PassengerName,
		toStringPtr(r.DriverID),
		r.DriverName,
		r.PickupAddress,
		r.DestinationAddress,
		r.PickupCoords.Lat, r.PickupCoords.Lng,
		r.DestinationCoords.Lat, r.DestinationCoords.Lng,
		r.Fare.Amount,
		r.Fare.Currency,
		string(r.Category),
		string(r.PaymentMethod),
		string(r.Status),
		r.StatusVersion,
	).Scan(&r.CreatedAt)
	if err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, id, "", r.Status, "passenger", &r.PassengerID); err != nil {
		return err
	}
	stored := *r
	stored.ID = id
	if err := notify(ctx, tx, "", stored); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.ID = id
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Transition(ctx context.Context, t Transition) (*Ride, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var prev string
	err = tx.QueryRow(ctx, `SELECT status FROM rides WHERE id = $1 FOR UPDATE`, string(t.RideID)).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE rides
		SET status = $2,
			status_version = status_version + 1,
			driver_id = CASE WHEN $2 = 'accepted' THEN $3 WHEN $2 = 'cancelled' THEN NULL ELSE driver_id END,
			driver_name = CASE WHEN $2 = 'accepted' THEN $4 WHEN $2 = 'cancelled' THEN '' ELSE driver_name END,
			accepted_at = CASE WHEN $2 = 'accepted' THEN $5 ELSE accepted_at END,
			arrived_at = CASE WHEN $2 = 'arrived' THEN $5 ELSE arrived_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN $5 ELSE completed_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $5 ELSE cancelled_at END,
			cancelled_by = CASE WHEN $2 = 'cancelled' THEN $6 ELSE cancelled_by END,
			cancel_reason = CASE WHEN $2 = 'cancelled' THEN $7 ELSE cancel_reason END
		WHERE id = $1
		  AND status = ANY($8)
		  AND ($9::text IS NULL OR driver_id = $9)
		RETURNING `+rideColumns,
		string(t.RideID),
		string(t.To),
		toStringPtr(t.DriverID),
		t.DriverName,
		at,
		t.CancelledBy,
		t.CancelReason,
		from,
		toStringPtr(t.RequireDriver),
	)
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	actorType, actorID := transitionActor(t, r)
	if err := appendEvent(ctx, tx, r.ID, Status(prev), r.Status, actorType, actorID); err != nil {
		return nil, err
	}
	if err := notify(ctx, tx, Status(prev), r); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Ride, error) {
	return s.query(ctx, `SELECT `+rideColumns+` FROM rides WHERE status = $1 ORDER BY created_at DESC, id DESC`+limitClause(limit),
		string(status))
}

func (s *PostgresStore) ListByPassenger(ctx context.Context, passengerID types.ID, statuses []Status, limit int) ([]Ride, error) {
	if len(statuses) == 0 {
		return s.query(ctx, `SELECT `+rideColumns+` FROM rides WHERE passenger_id = $1 ORDER BY created_at DESC, id DESC`+limitClause(limit),
			string(passengerID))
	}
	in := make([]string, len(statuses))
	for i, st := range statuses {
		in[i] = string(st)
	}
	return s.query(ctx, `SELECT `+rideColumns+` FROM rides WHERE passenger_id = $1 AND status = ANY($2) ORDER BY created_at DESC, id DESC`+limitClause(limit),
		string(passengerID), in)
}

// WatchRide requires Listen to be running for changes after the first record.
func (s *PostgresStore) WatchRide(ctx context.Context, id types.ID) (<-chan Ride, error) {
	m := s.hub.addRide(ctx, id)
	cur, err := s.Get(ctx, id)
	if err != nil {
		m.stop()
		return nil, err
	}
	m.push(*cur)
	return m.out, nil
}

func (s *PostgresStore) WatchStatus(ctx context.Context, status Status) (<-chan []Ride, error) {
	m := s.hub.addStatus(ctx, status)
	list, err := s.ListByStatus(ctx, status, 0)
	if err != nil {
		m.stop()
		return nil, err
	}
	m.push(list)
	return m.out, nil
}

// Listen consumes ride_changes notifications until ctx is cancelled,
// reconnecting after failures.
func (s *PostgresStore) Listen(ctx context.Context) error {
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("ride listener stopped, reconnecting", "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	pooled, err := s.db.Acquire(ctx)
	if err != nil {
		return err
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	s.ready.Do(func() { close(s.listening) })
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, n.Payload)
	}
}

// dispatch runs on the single listener goroutine, so notifications are
// handed to subscribers in commit order.
func (s *PostgresStore) dispatch(ctx context.Context, payload string) {
	var n changeNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil || n.ID == "" {
		s.log.Warn("malformed ride notification", "payload", payload, "error", err)
		return
	}

	if s.hub.watchingRide(n.ID) {
		if r, err := s.committed(ctx, n); err != nil {
			s.log.Warn("ride notification lookup failed", "ride_id", n.ID, "error", err)
		} else {
			s.hub.publishRide(r)
		}
	}
	for _, st := range []Status{n.Prev, n.Next} {
		if st == "" || !s.hub.watched(st) {
			continue
		}
		list, err := s.ListByStatus(ctx, st, 0)
		if err != nil {
			s.log.Warn("ride feed refresh failed", "status", st, "error", err)
			continue
		}
		s.hub.publishStatus(st, list)
	}
}

// committed returns the row as of the notified commit. Without an inline
// row the current one is loaded and rewound to the notified status if
// later commits already moved it on.
func (s *PostgresStore) committed(ctx context.Context, n changeNotice) (Ride, error) {
	if n.Ride != nil {
		return *n.Ride, nil
	}
	cur, err := s.Get(ctx, n.ID)
	if err != nil {
		return Ride{}, err
	}
	if cur.StatusVersion != n.Version {
		cur.Status = n.Next
		cur.StatusVersion = n.Version
	}
	return *cur, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Ride, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (Ride, error) {
	var r Ride
	var driverID sql.NullString
	var acceptedAt, arrivedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.PassengerID, &r.PassengerName, &driverID, &r.DriverName,
		&r.PickupAddress, &r.DestinationAddress,
		&r.PickupCoords.Lat, &r.PickupCoords.Lng, &r.DestinationCoords.Lat, &r.DestinationCoords.Lng,
		&r.Fare.Amount, &r.Fare.Currency, &r.Category, &r.PaymentMethod,
		&r.Status, &r.StatusVersion, &r.CreatedAt,
		&acceptedAt, &arrivedAt, &completedAt, &cancelledAt,
		&r.CancelledBy, &r.CancelReason,
	)
	if err != nil {
		return Ride{}, err
	}
	if driverID.Valid {
		d := types.ID(driverID.String)
		r.DriverID = &d
	}
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.ArrivedAt = toTimePtr(arrivedAt)
	r.CompletedAt = toTimePtr(completedAt)
	r.CancelledAt = toTimePtr(cancelledAt)
	return r, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, id types.ID, from, to Status, actorType string, actorID *types.ID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ride_state_events (ride_id, from_status, to_status, actor_type, actor_id)
		VALUES ($1, $2, $3, $4, $5)`,
		string(id), string(from), string(to), actorType, toStringPtr(actorID),
	)
	return err
}

func notify(ctx context.Context, tx pgx.Tx, prev Status, r Ride) error {
	payload, err := encodeChange(prev, r)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload)
	return err
}

func encodeChange(prev Status, r Ride) (string, error) {
	n := changeNotice{ID: r.ID, Prev: prev, Next: r.Status, Version: r.StatusVersion, Ride: &r}
	raw, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	if len(raw) > maxNotifyPayload {
		n.Ride = nil
		if raw, err = json.Marshal(n); err != nil {
			return "", err
		}
	}
	return string(raw), nil
}

func transitionActor(t Transition, r Ride) (string, *types.ID) {
	switch t.To {
	case StatusCancelled:
		if t.CancelledBy == CancelledBySystem {
			return CancelledBySystem, nil
		}
		return CancelledByPassenger, &r.PassengerID
	default:
		return "driver", r.DriverID
	}
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
