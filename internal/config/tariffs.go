// README: Tariff file loading (YAML with ${VAR:-default} expansion).
package config

import (
	"fmt"
	"os"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

type TariffConfig struct {
	BaseFare      float64 `yaml:"base_fare"`
	CostPerMinute float64 `yaml:"cost_per_minute"`
	CostPerKm     float64 `yaml:"cost_per_km"`
	BookingFee    float64 `yaml:"booking_fee"`
}

type TariffFile struct {
	Currency string                  `yaml:"currency"`
	Tariffs  map[string]TariffConfig `yaml:"tariffs"`
}

// DefaultTariffs returns the built-in per-category tariffs.
func DefaultTariffs() map[string]TariffConfig {
	return map[string]TariffConfig{
		"comfort":   {BaseFare: 3.50, CostPerMinute: 0.45, CostPerKm: 1.50, BookingFee: 2.00},
		"executive": {BaseFare: 5.00, CostPerMinute: 0.70, CostPerKm: 2.20, BookingFee: 2.50},
	}
}

func LoadTariffs(path string) (TariffFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TariffFile{}, fmt.Errorf("read tariffs %s: %w", path, err)
	}
	return ParseTariffs(string(data))
}

func ParseTariffs(raw string) (TariffFile, error) {
	expanded, err := envsubst.EvalEnv(raw)
	if err != nil {
		return TariffFile{}, fmt.Errorf("expand tariffs: %w", err)
	}
	var f TariffFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return TariffFile{}, fmt.Errorf("parse tariffs: %w", err)
	}
	return f, nil
}
