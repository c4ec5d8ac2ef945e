package metrics

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig configures the daily history export.
type SchedulerConfig struct {
	Exporter  *Exporter
	Window    time.Duration
	RunHour   int
	RunMinute int
	Location  *time.Location
	Logger    *slog.Logger
}

// Scheduler exports the previous window of history once a day.
type Scheduler struct {
	exporter  *Exporter
	window    time.Duration
	runHour   int
	runMinute int
	location  *time.Location
	logger    *slog.Logger
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		exporter:  cfg.Exporter,
		window:    window,
		runHour:   clamp(cfg.RunHour, 0, 23),
		runMinute: clamp(cfg.RunMinute, 0, 59),
		location:  loc,
		logger:    logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.exporter == nil {
		return
	}
	for {
		now := time.Now().In(s.location)
		next := s.nextRun(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			path, rows, err := s.exporter.ExportWindow(ctx, next.Add(-s.window), next)
			if err != nil {
				s.logger.Error("metrics export failed", "error", err)
				continue
			}
			s.logger.Info("metrics history exported", "path", path, "rows", rows)
		}
	}
}

func (s *Scheduler) nextRun(after time.Time) time.Time {
	target := time.Date(after.Year(), after.Month(), after.Day(), s.runHour, s.runMinute, 0, 0, s.location)
	if !target.After(after) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
