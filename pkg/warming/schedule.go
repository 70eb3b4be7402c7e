package warming

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var clockPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule runs a strategy, or a fixed question list, at a time of day.
// ScheduleTime is either HH:MM or a five-field cron spec.
type Schedule struct {
	Name         string     `yaml:"name"`
	Strategy     Strategy   `yaml:"strategy"`
	ScheduleTime string     `yaml:"schedule_time"`
	Queries      []string   `yaml:"queries,omitempty"`
	Enabled      bool       `yaml:"enabled"`
	LastRun      *time.Time `yaml:"last_run,omitempty"`

	spec cron.Schedule
}

type scheduleFile struct {
	Schedules []*Schedule `yaml:"schedules"`
}

// ParseScheduleTime accepts HH:MM or a cron spec.
func ParseScheduleTime(s string) (cron.Schedule, error) {
	if m := clockPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		s = fmt.Sprintf("%d %d * * *", minute, hour)
	}
	spec, err := cronParser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule time %q: %w", s, err)
	}
	return spec, nil
}

// Validate checks the strategy and compiles the schedule time.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if len(s.Queries) == 0 && !s.Strategy.Valid() {
		return fmt.Errorf("schedule %s: unknown strategy %q", s.Name, s.Strategy)
	}
	spec, err := ParseScheduleTime(s.ScheduleTime)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	s.spec = spec
	return nil
}

// Due reports whether now is within window of a scheduled activation and the
// schedule has not already run that day.
func (s *Schedule) Due(now time.Time, window time.Duration) bool {
	if !s.Enabled || s.spec == nil {
		return false
	}
	if s.LastRun != nil && sameDay(*s.LastRun, now) {
		return false
	}
	next := s.spec.Next(now.Add(-window))
	return !next.After(now.Add(window))
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// LoadSchedules reads a YAML schedule file. An empty path yields no schedules.
func LoadSchedules(path string) ([]*Schedule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules: %w", err)
	}
	return ParseSchedules(data)
}

// ParseSchedules decodes and validates a schedule document.
func ParseSchedules(data []byte) ([]*Schedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schedules: %w", err)
	}
	for _, s := range f.Schedules {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Schedules, nil
}
