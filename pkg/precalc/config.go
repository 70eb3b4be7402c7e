// Package precalc computes L1 metrics ahead of time for common windows,
// caches them, and answers questions from the cache when it can.
package precalc

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Config drives the calculator. Dimensions maps a canonical dimension name
// (as the semantic parser reports it) to its warehouse column.
type Config struct {
	Metrics              []string             `default:"[\"GROSS_MARGIN\",\"GROSS_MARGIN_PCT\",\"OPERATING_INCOME\",\"NET_INCOME\"]"`
	Granularities        []models.Granularity `default:"[\"daily\",\"monthly\",\"quarterly\",\"mtd\",\"qtd\",\"ytd\"]"`
	Dimensions           map[string]string    `default:"{\"region\":\"Sales_Region\"}"`
	LookbackDays         int                  `default:"365"`
	RefreshIntervalHours int                  `default:"6"`
	BatchSize            int                  `default:"10"`
	Pacing               time.Duration        `default:"100ms"`
	TTL                  time.Duration        `default:"24h"`
}

// NewConfig returns a Config with every default applied.
func NewConfig() (Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return Config{}, fmt.Errorf("failed to apply precalc defaults: %w", err)
	}
	return c, nil
}

// ConfigFrom overlays the process configuration onto the defaults.
func ConfigFrom(cfg config.PreCalcConfig) (Config, error) {
	c, err := NewConfig()
	if err != nil {
		return Config{}, err
	}
	if cfg.LookbackDays > 0 {
		c.LookbackDays = cfg.LookbackDays
	}
	if cfg.RefreshIntervalHours > 0 {
		c.RefreshIntervalHours = cfg.RefreshIntervalHours
	}
	if cfg.BatchSize > 0 {
		c.BatchSize = cfg.BatchSize
	}
	return c, nil
}
