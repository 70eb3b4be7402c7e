package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/logging"
	"github.com/ekaya-inc/ekaya-finsight/pkg/observability"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlgen"
)

// Generator is the part of the SQL generator the warmer drives.
type Generator interface {
	IsCached(ctx context.Context, clientID, question string) (bool, error)
	Generate(ctx context.Context, question string, opts sqlgen.Options) (*sqlgen.Generated, error)
}

var _ Generator = (*sqlgen.Generator)(nil)

// Result labels on finsight_cache_warm_queries_total.
const (
	resultSuccess       = "success"
	resultFailed        = "failed"
	resultAlreadyCached = "already_cached"
)

// WarmingSummary reports one warming run.
type WarmingSummary struct {
	Strategy      Strategy      `json:"strategy"`
	Schedule      string        `json:"schedule,omitempty"`
	Total         int           `json:"total"`
	Success       int           `json:"success"`
	Failed        int           `json:"failed"`
	AlreadyCached int           `json:"already_cached"`
	QueriesWarmed []string      `json:"queries_warmed"`
	Errors        []string      `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Warmer keeps the SQL cache populated.
type Warmer struct {
	cfg       Config
	generator Generator
	queryLog  repositories.QueryLogRepository
	hierarchy *hierarchy.Hierarchy
	logger    *zap.Logger

	mu        sync.Mutex
	schedules []*Schedule

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWarmer(cfg Config, generator Generator, queryLog repositories.QueryLogRepository, h *hierarchy.Hierarchy, logger *zap.Logger) *Warmer {
	if h == nil {
		h = hierarchy.NewStatic(hierarchy.DefaultOptions(), logger)
	}
	return &Warmer{
		cfg:       cfg,
		generator: generator,
		queryLog:  queryLog,
		hierarchy: h,
		logger:    logger.Named("warming"),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AddSchedule validates and registers a schedule.
func (w *Warmer) AddSchedule(s *Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.schedules = append(w.schedules, s)
	return nil
}

// Schedules returns the registered schedules.
func (w *Warmer) Schedules() []*Schedule {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Schedule(nil), w.schedules...)
}

// Run drives the interval loop and the schedule loop until ctx ends.
func (w *Warmer) Run(ctx context.Context) error {
	if w.cfg.SchedulesPath != "" {
		schedules, err := LoadSchedules(w.cfg.SchedulesPath)
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.schedules = append(w.schedules, schedules...)
		w.mu.Unlock()
	}

	w.logger.Info("Cache warmer started",
		zap.Duration("interval", w.cfg.interval()),
		zap.Int("schedules", len(w.Schedules())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.intervalLoop(gctx) })
	g.Go(func() error { return w.scheduleLoop(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		w.logger.Info("Cache warmer stopped")
		return nil
	}
	return err
}

func (w *Warmer) intervalLoop(ctx context.Context) error {
	for {
		wait := w.cfg.interval()
		if _, err := w.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Warming cycle failed, backing off",
				zap.Duration("backoff", w.cfg.CycleBackoff),
				zap.Error(err))
			wait = w.cfg.CycleBackoff
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *Warmer) scheduleLoop(ctx context.Context) error {
	for {
		wait := w.cfg.ScheduleTick
		if err := w.CheckSchedules(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Scheduled warming failed, backing off",
				zap.Duration("backoff", w.cfg.ScheduleBackoff),
				zap.Error(err))
			wait = w.cfg.ScheduleBackoff
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunCycle runs the popularity, recency and financial strategies in order.
func (w *Warmer) RunCycle(ctx context.Context) ([]*WarmingSummary, error) {
	var out []*WarmingSummary
	for _, s := range cycleStrategies {
		summary, err := w.RunStrategy(ctx, s)
		if err != nil {
			return out, fmt.Errorf("strategy %s: %w", s, err)
		}
		out = append(out, summary)
	}
	return out, nil
}

// RunStrategy warms every question strategy currently selects.
func (w *Warmer) RunStrategy(ctx context.Context, strategy Strategy) (*WarmingSummary, error) {
	queries, err := w.Queries(ctx, strategy)
	if err != nil {
		return nil, err
	}
	summary := w.warm(ctx, queries)
	summary.Strategy = strategy
	w.logSummary(summary)
	return summary, nil
}

// CheckSchedules runs every due schedule once.
func (w *Warmer) CheckSchedules(ctx context.Context) error {
	now := w.now()
	var errs []error
	for _, s := range w.Schedules() {
		if !s.Due(now, w.cfg.ScheduleWindow) {
			continue
		}
		summary, err := w.RunSchedule(ctx, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", s.Name, err))
			continue
		}
		w.logger.Info("Scheduled warming finished",
			zap.String("schedule", s.Name),
			zap.Int("success", summary.Success))
	}
	return errors.Join(errs...)
}

// RunSchedule runs one schedule now and stamps its last run.
func (w *Warmer) RunSchedule(ctx context.Context, s *Schedule) (*WarmingSummary, error) {
	queries := s.Queries
	if len(queries) == 0 {
		var err error
		if queries, err = w.Queries(ctx, s.Strategy); err != nil {
			return nil, err
		}
	}
	summary := w.warm(ctx, queries)
	summary.Strategy = s.Strategy
	summary.Schedule = s.Name

	ran := w.now()
	w.mu.Lock()
	s.LastRun = &ran
	w.mu.Unlock()

	w.logSummary(summary)
	return summary, nil
}

// warm generates SQL for each question not already cached, pacing the
// generator between calls. Failures are counted, never returned.
func (w *Warmer) warm(ctx context.Context, queries []string) *WarmingSummary {
	summary := &WarmingSummary{
		StartedAt:     w.now(),
		QueriesWarmed: []string{},
		Errors:        []string{},
	}
	for i, q := range queries {
		if ctx.Err() != nil {
			break
		}
		summary.Total++

		cached, err := w.generator.IsCached(ctx, "", q)
		if err != nil {
			w.logger.Debug("Cache check failed, warming anyway", zap.Error(err))
		}
		if cached {
			summary.AlreadyCached++
			observability.CacheWarmQueriesTotal.WithLabelValues(resultAlreadyCached).Inc()
			continue
		}

		if _, err := w.generator.Generate(ctx, q, sqlgen.Options{ForceRefresh: true}); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", q, err))
			observability.CacheWarmQueriesTotal.WithLabelValues(resultFailed).Inc()
			w.logger.Debug("Failed to warm question",
				zap.String("question", logging.TruncateString(q, 120)),
				zap.Error(err))
		} else {
			summary.Success++
			summary.QueriesWarmed = append(summary.QueriesWarmed, q)
			observability.CacheWarmQueriesTotal.WithLabelValues(resultSuccess).Inc()
		}

		if i < len(queries)-1 {
			if err := w.sleep(ctx, w.cfg.Pacing); err != nil {
				break
			}
		}
	}
	summary.Duration = w.now().Sub(summary.StartedAt)
	return summary
}

func (w *Warmer) logSummary(s *WarmingSummary) {
	w.logger.Info("Warming run complete",
		zap.String("strategy", string(s.Strategy)),
		zap.String("schedule", s.Schedule),
		zap.Int("total", s.Total),
		zap.Int("success", s.Success),
		zap.Int("failed", s.Failed),
		zap.Int("already_cached", s.AlreadyCached),
		zap.Duration("duration", s.Duration))
}
