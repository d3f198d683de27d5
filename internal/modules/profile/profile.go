// README: Driver and passenger display profiles (Postgres and in-memory).
package profile

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/types"
)

var ErrNotFound = errors.New("profile not found")

const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"
)

type Driver struct {
	ID           types.ID `json:"id"`
	Name         string   `json:"name"`
	Rating       float64  `json:"rating"`
	VehicleMake  string   `json:"vehicleMake"`
	VehicleModel string   `json:"vehicleModel"`
	VehicleColor string   `json:"vehicleColor"`
	Plate        string   `json:"plate"`
}

// Vehicle renders the car as "Color Make Model".
func (d Driver) Vehicle() string {
	return strings.Join(strings.Fields(d.VehicleColor+" "+d.VehicleMake+" "+d.VehicleModel), " ")
}

type Passenger struct {
	ID     types.ID `json:"id"`
	Name   string   `json:"name"`
	Rating float64  `json:"rating"`
}

type Store interface {
	Driver(ctx context.Context, id types.ID) (*Driver, error)
	Passenger(ctx context.Context, id types.ID) (*Passenger, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Driver(ctx context.Context, id types.ID) (*Driver, error) {
	var d Driver
	err := s.db.QueryRow(ctx, `
		SELECT id, display_name, rating, vehicle_make, vehicle_model, vehicle_color, plate
		FROM profiles
		WHERE id = $1 AND role = 'driver'`, string(id),
	).Scan(&d.ID, &d.Name, &d.Rating, &d.VehicleMake, &d.VehicleModel, &d.VehicleColor, &d.Plate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) Passenger(ctx context.Context, id types.ID) (*Passenger, error) {
	var p Passenger
	err := s.db.QueryRow(ctx, `
		SELECT id, display_name, rating
		FROM profiles
		WHERE id = $1 AND role = 'passenger'`, string(id),
	).Scan(&p.ID, &p.Name, &p.Rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertDriver(ctx context.Context, d Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, role, display_name, rating, vehicle_make, vehicle_model, vehicle_color, plate)
		VALUES ($1, 'driver', $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			role = 'driver',
			display_name = EXCLUDED.display_name,
			rating = EXCLUDED.rating,
			vehicle_make = EXCLUDED.vehicle_make,
			vehicle_model = EXCLUDED.vehicle_model,
			vehicle_color = EXCLUDED.vehicle_color,
			plate = EXCLUDED.plate`,
		string(d.ID), d.Name, d.Rating, d.VehicleMake, d.VehicleModel, d.VehicleColor, d.Plate,
	)
	return err
}

func (s *PostgresStore) UpsertPassenger(ctx context.Context, p Passenger) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, role, display_name, rating)
		VALUES ($1, 'passenger', $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			role = 'passenger',
			display_name = EXCLUDED.display_name,
			rating = EXCLUDED.rating`,
		string(p.ID), p.Name, p.Rating,
	)
	return err
}

type MemoryStore struct {
	mu         sync.RWMutex
	drivers    map[types.ID]Driver
	passengers map[types.ID]Passenger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers:    map[types.ID]Driver{},
		passengers: map[types.ID]Passenger{},
	}
}

func (s *MemoryStore) Driver(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) Passenger(_ context.Context, id types.ID) (*Passenger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.passengers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) UpsertDriver(_ context.Context, d Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = d
	return nil
}

func (s *MemoryStore) UpsertPassenger(_ context.Context, p Passenger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passengers[p.ID] = p
	return nil
}
