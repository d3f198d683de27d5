package config

import (
	"testing"
	"time"
)

func TestParseTariffs_ExpandsEnv(t *testing.T) {
	t.Setenv("COMFORT_BASE", "4.25")
	raw := `
currency: EUR
tariffs:
  comfort:
    base_fare: ${COMFORT_BASE}
    cost_per_minute: 0.45
    cost_per_km: 1.50
    booking_fee: ${COMFORT_FEE:-2.00}
`
	f, err := ParseTariffs(raw)
	if err != nil {
		t.Fatalf("ParseTariffs: %v", err)
	}
	got := f.Tariffs["comfort"]
	if got.BaseFare != 4.25 {
		t.Errorf("base_fare = %v, want 4.25", got.BaseFare)
	}
	if got.BookingFee != 2.00 {
		t.Errorf("booking_fee = %v, want default 2.00", got.BookingFee)
	}
	if f.Currency != "EUR" {
		t.Errorf("currency = %q", f.Currency)
	}
}

func TestParseTariffs_Invalid(t *testing.T) {
	if _, err := ParseTariffs("tariffs: [not a map"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_JWTMemoryDefaults(t *testing.T) {
	t.Setenv("RIDEHAIL_AUTH_MODE", "jwt")
	t.Setenv("RIDEHAIL_JWT_SECRET", "s3cret")
	t.Setenv("RIDEHAIL_RIDE_STORE", "memory")
	t.Setenv("RIDEHAIL_PENDING_TIMEOUT", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ride.PendingTimeout != 2*time.Minute {
		t.Errorf("pending timeout = %v", cfg.Ride.PendingTimeout)
	}
	if _, ok := cfg.Fare.Tariffs["comfort"]; !ok {
		t.Error("expected default comfort tariff")
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("RIDEHAIL_AUTH_MODE", "jwt")
	t.Setenv("RIDEHAIL_JWT_SECRET", "s3cret")
	t.Setenv("RIDEHAIL_RIDE_STORE", "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoad_FirebaseRequiresProject(t *testing.T) {
	t.Setenv("RIDEHAIL_AUTH_MODE", "firebase")
	t.Setenv("RIDEHAIL_FIREBASE_PROJECT_ID", "")
	t.Setenv("RIDEHAIL_RIDE_STORE", "memory")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without project id")
	}
}
