// Package scheduler rolls the generation horizon forward by periodically
// regenerating every active rule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyp0633/recurra/server/repository"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep once a day at 03:00.
const DefaultSchedule = "0 3 * * *"

const defaultPageSize = 100

// Regenerator is the part of the repository the scheduler drives.
type Regenerator interface {
	GetRules(ctx context.Context, filter storage.RuleFilter) (repository.RulePage, error)
	RegenerateEvents(ctx context.Context, id string) (repository.RuleResult, error)
}

// Config holds scheduler settings. Zero values pick the defaults.
type Config struct {
	Schedule string         // standard 5-field cron expression or descriptor
	Location *time.Location // zone the schedule is evaluated in
	PageSize int
	Logger   *slog.Logger
}

// RunStats summarizes one sweep.
type RunStats struct {
	Rules         int
	Regenerated   int
	Failed        int
	EventsCreated int
	EventsDeleted int
}

// Scheduler owns a cron instance with a single sweep job.
type Scheduler struct {
	repo     Regenerator
	cron     *cron.Cron
	pageSize int
	logger   *slog.Logger

	// ctx is cancelled by Stop so a running sweep winds down
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates cfg.Schedule and registers the sweep. Call Start to run it.
func New(repo Regenerator, cfg Config) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		repo:     repo,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{cfg.Logger}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, s.sweep); err != nil {
		s.cancel()
		return nil, fmt.Errorf("invalid regenerate schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.Next().Format(time.RFC3339))
}

// Stop halts the cron loop, cancels a sweep in flight and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled sweep, or zero if the cron
// loop is not running.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) sweep() {
	start := time.Now()
	stats, err := s.RunOnce(s.ctx)
	attrs := []any{
		"rules", stats.Rules,
		"regenerated", stats.Regenerated,
		"failed", stats.Failed,
		"events_created", stats.EventsCreated,
		"duration", time.Since(start).String(),
	}
	if err != nil {
		s.logger.Error("regeneration sweep aborted", append(attrs, "error", err)...)
		return
	}
	s.logger.Info("regeneration sweep finished", attrs...)
}

// RunOnce regenerates every active rule, page by page. A failure on one
// rule is logged and counted; only listing errors and cancellation abort
// the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	active := true

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, err := s.repo.GetRules(ctx, storage.RuleFilter{Page: page, Limit: s.pageSize, IsActive: &active})
		if err != nil {
			return stats, fmt.Errorf("failed to list active rules: %w", err)
		}

		for _, rule := range res.Rules {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Rules++
			out, err := s.repo.RegenerateEvents(ctx, rule.ID)
			if err != nil {
				stats.Failed++
				level := slog.LevelError
				if errors.Is(err, repository.ErrNotFound) {
					// deleted while the sweep was running
					level = slog.LevelWarn
				}
				s.logger.Log(ctx, level, "failed to regenerate rule", "rule_id", rule.ID, "error", err)
				continue
			}
			stats.Regenerated++
			stats.EventsCreated += out.EventsCreated
			stats.EventsDeleted += out.EventsDeleted
		}

		if len(res.Rules) == 0 || len(res.Rules) < res.Limit || page*res.Limit >= res.Total {
			return stats, nil
		}
	}
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
