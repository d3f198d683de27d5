// README: Pure fare calculation from route metrics, tariff and surge flag.
package fare

import "ridehail/internal/modules/ride"

// SurgeMultiplier is applied to the whole base fare when surge is active.
const SurgeMultiplier = 1.3

type Tariff struct {
	BaseFare      float64 `json:"baseFare"`
	CostPerMinute float64 `json:"costPerMinute"`
	CostPerKm     float64 `json:"costPerKm"`
	BookingFee    float64 `json:"bookingFee"`
}

func (t Tariff) Valid() bool {
	return t.BaseFare >= 0 && t.CostPerMinute >= 0 && t.CostPerKm >= 0 && t.BookingFee >= 0
}

// Input mirrors the quote contract. Category selects the tariff upstream
// and does not enter the formula.
type Input struct {
	DistanceKm      float64
	DurationMinutes float64
	Category        ride.Category
	Tariff          Tariff
	SurgeActive     bool
}

// Calculate returns the unrounded fare in major units; with surge it is
// exactly the base fare times SurgeMultiplier. Rounding to cents happens
// once, when the quote becomes types.Money.
func Calculate(in Input) float64 {
	base := in.Tariff.BaseFare +
		in.Tariff.CostPerMinute*in.DurationMinutes +
		in.Tariff.CostPerKm*in.DistanceKm +
		in.Tariff.BookingFee
	if in.SurgeActive {
		return base * SurgeMultiplier
	}
	return base
}
