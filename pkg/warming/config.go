// Package warming pre-generates SQL for the questions users are likely to
// ask so the SQL cache is hot before they ask them.
package warming

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
)

// Config controls the warmer loops and strategy limits.
type Config struct {
	IntervalHours       int `default:"6"`
	RecencyDays         int `default:"7"`
	PopularityDays      int `default:"30"`
	PopularityThreshold int `default:"5"`
	HistoryLimit        int `default:"5000"`
	MaxQueries          int `default:"50"`

	Pacing          time.Duration `default:"500ms"`
	CycleBackoff    time.Duration `default:"10m"`
	ScheduleBackoff time.Duration `default:"5m"`
	ScheduleTick    time.Duration `default:"1m"`
	ScheduleWindow  time.Duration `default:"5m"`

	SchedulesPath string
}

// NewConfig returns a Config with every default applied.
func NewConfig() (Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return Config{}, fmt.Errorf("failed to apply warming defaults: %w", err)
	}
	return c, nil
}

// ConfigFrom overlays the process configuration onto the defaults.
func ConfigFrom(cfg config.WarmingConfig) (Config, error) {
	c, err := NewConfig()
	if err != nil {
		return Config{}, err
	}
	if cfg.IntervalHours > 0 {
		c.IntervalHours = cfg.IntervalHours
	}
	if cfg.RecencyDays > 0 {
		c.RecencyDays = cfg.RecencyDays
	}
	c.SchedulesPath = cfg.SchedulesPath
	return c, nil
}

func (c Config) interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}
