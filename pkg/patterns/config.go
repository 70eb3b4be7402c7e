// Package patterns mines the query log for recurring query shapes and
// recommends materialized views for the expensive ones.
package patterns

import (
	"fmt"

	"github.com/creasty/defaults"

	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
)

// Config holds the analyzer thresholds and the warehouse cost model.
type Config struct {
	LookbackDays int `default:"30"`
	MinFrequency int `default:"5"`
	HistoryLimit int `default:"10000"`

	// A pattern earns a recommendation only past both thresholds.
	RecommendMinFrequency int   `default:"10"`
	RecommendMinBytes     int64 `default:"1073741824"`

	PricePerTB        float64 `default:"5"`
	StoragePerGBMonth float64 `default:"0.02"`
	MVSizeRatio       float64 `default:"0.01"`

	MaxSamples     int    `default:"3"`
	TimeColumn     string `default:"Posting_Date"`
	ViewNamePrefix string `default:"mv_"`
}

// NewConfig returns a Config with every default applied.
func NewConfig() (Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return Config{}, fmt.Errorf("failed to apply pattern defaults: %w", err)
	}
	return c, nil
}

// ConfigFrom overlays the process configuration onto the defaults.
func ConfigFrom(cfg config.PatternsConfig) (Config, error) {
	c, err := NewConfig()
	if err != nil {
		return Config{}, err
	}
	if cfg.LookbackDays > 0 {
		c.LookbackDays = cfg.LookbackDays
	}
	if cfg.MinFrequency > 0 {
		c.MinFrequency = cfg.MinFrequency
	}
	if cfg.HistoryLimit > 0 {
		c.HistoryLimit = cfg.HistoryLimit
	}
	return c, nil
}
