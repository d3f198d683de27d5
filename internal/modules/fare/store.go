// README: Tariff override store backed by PostgreSQL.
package fare

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/modules/ride"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Override(ctx context.Context, category ride.Category) (*Tariff, error) {
	var t Tariff
	err := s.db.QueryRow(ctx, `
		SELECT base_fare, cost_per_minute, cost_per_km, booking_fee
		FROM tariff_overrides
		WHERE category = $1`, string(category),
	).Scan(&t.BaseFare, &t.CostPerMinute, &t.CostPerKm, &t.BookingFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Upsert(ctx context.Context, category ride.Category, t Tariff) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tariff_overrides (category, base_fare, cost_per_minute, cost_per_km, booking_fee, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (category) DO UPDATE SET
			base_fare = EXCLUDED.base_fare,
			cost_per_minute = EXCLUDED.cost_per_minute,
			cost_per_km = EXCLUDED.cost_per_km,
			booking_fee = EXCLUDED.booking_fee,
			updated_at = NOW()`,
		string(category), t.BaseFare, t.CostPerMinute, t.CostPerKm, t.BookingFee,
	)
	return err
}

func (s *Store) Delete(ctx context.Context, category ride.Category) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tariff_overrides WHERE category = $1`, string(category))
	return err
}
