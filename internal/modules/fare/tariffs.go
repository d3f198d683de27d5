// README: Tariff resolution: configured defaults with per-category overrides.
package fare

import (
	"context"
	"fmt"
	"log/slog"

	"ridehail/internal/config"
	"ridehail/internal/modules/ride"
)

// OverrideSource returns nil, nil when a category has no override.
type OverrideSource interface {
	Override(ctx context.Context, category ride.Category) (*Tariff, error)
}

type TariffBook struct {
	defaults  map[ride.Category]Tariff
	overrides OverrideSource
	log       *slog.Logger
}

func NewTariffBook(cfg map[string]config.TariffConfig, overrides OverrideSource, log *slog.Logger) *TariffBook {
	if log == nil {
		log = slog.Default()
	}
	defaults := make(map[ride.Category]Tariff, len(cfg))
	for name, t := range cfg {
		defaults[ride.Category(name)] = Tariff{
			BaseFare:      t.BaseFare,
			CostPerMinute: t.CostPerMinute,
			CostPerKm:     t.CostPerKm,
			BookingFee:    t.BookingFee,
		}
	}
	return &TariffBook{defaults: defaults, overrides: overrides, log: log}
}

// Tariff prefers a stored override; a failing override source falls back
// to the configured default.
func (b *TariffBook) Tariff(ctx context.Context, category ride.Category) (Tariff, error) {
	if !category.Valid() {
		return Tariff{}, fmt.Errorf("%w: unknown category %q", ride.ErrValidation, category)
	}
	if b.overrides != nil {
		o, err := b.overrides.Override(ctx, category)
		switch {
		case err != nil:
			b.log.Warn("tariff override lookup failed, using default", "category", category, "error", err)
		case o != nil && o.Valid():
			return *o, nil
		case o != nil:
			b.log.Warn("ignoring invalid tariff override", "category", category)
		}
	}
	t, ok := b.defaults[category]
	if !ok {
		return Tariff{}, fmt.Errorf("%w: no tariff configured for %q", ride.ErrValidation, category)
	}
	return t, nil
}
