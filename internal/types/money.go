// README: Common money value object used across modules.
package types

import (
	"fmt"
	"math"
)

// Money is stored in minor units (cents) so persisted fares never drift.
type Money struct {
	Amount   int64  `json:"amount" firestore:"amount"`
	Currency string `json:"currency" firestore:"currency"`
}

// MoneyFromFloat rounds a major-unit amount to the nearest minor unit.
func MoneyFromFloat(v float64, currency string) Money {
	return Money{Amount: int64(math.Round(v * 100)), Currency: currency}
}

func (m Money) Float() float64 {
	return float64(m.Amount) / 100
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f %s", m.Float(), m.Currency)
}
