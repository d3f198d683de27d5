// README: Post-ride rating handoff: records one pending rating prompt per completed ride.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

var ErrNotRateable = errors.New("ride cannot be rated")

type Prompt struct {
	RideID      types.ID  `json:"rideId"`
	PassengerID types.ID  `json:"passengerId"`
	DriverID    types.ID  `json:"driverId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PromptStore saves prompts idempotently: saving the same ride twice keeps
// the first prompt.
type PromptStore interface {
	Save(ctx context.Context, p Prompt) error
	Pending(ctx context.Context, passengerID types.ID) ([]Prompt, error)
}

type Service struct {
	store PromptStore
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store PromptStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Begin opens the rating prompt for a completed ride.
func (s *Service) Begin(ctx context.Context, r ride.Ride) error {
	if r.Status != ride.StatusCompleted || r.DriverID == nil {
		return fmt.Errorf("%w: ride %s is %s", ErrNotRateable, r.ID, r.Status)
	}
	p := Prompt{RideID: r.ID, PassengerID: r.PassengerID, DriverID: *r.DriverID, CreatedAt: s.now()}
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save rating prompt: %w", err)
	}
	s.log.Info("rating prompt opened", "ride_id", r.ID, "passenger_id", r.PassengerID)
	return nil
}

func (s *Service) Pending(ctx context.Context, passengerID types.ID) ([]Prompt, error) {
	return s.store.Pending(ctx, passengerID)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, p Prompt) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rating_prompts (ride_id, passenger_id, driver_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ride_id) DO NOTHING`,
		string(p.RideID), string(p.PassengerID), string(p.DriverID), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Pending(ctx context.Context, passengerID types.ID) ([]Prompt, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ride_id, passenger_id, driver_id, created_at
		FROM rating_prompts
		WHERE passenger_id = $1
		ORDER BY created_at DESC`, string(passengerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prompt
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.RideID, &p.PassengerID, &p.DriverID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type MemoryStore struct {
	mu      sync.Mutex
	prompts map[types.ID]Prompt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prompts: make(map[types.ID]Prompt)}
}

func (s *MemoryStore) Save(_ context.Context, p Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[p.RideID]; !ok {
		s.prompts[p.RideID] = p
	}
	return nil
}

func (s *MemoryStore) Pending(_ context.Context, passengerID types.ID) ([]Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Prompt
	for _, p := range s.prompts {
		if p.PassengerID == passengerID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Prompt) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}
