package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

// Job is the work a Scheduler fires
type Job func(ctx context.Context) (*Summary, error)

// ScheduleConfig holds scheduler configuration
type ScheduleConfig struct {
	// Hour and Minute of the daily run (default: 03:00)
	Hour   int
	Minute int

	// Location the clock time is interpreted in (default: time.Local)
	Location *time.Location

	// Logger is used for structured logging (default: NoopLogger)
	Logger keypool.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// After waits for a duration (default: time.After)
	After func(d time.Duration) <-chan time.Time
}

// Scheduler runs a Job once a day at a fixed clock time, plus on demand
type Scheduler struct {
	job     Job
	config  ScheduleConfig
	logger  keypool.Logger
	trigger chan struct{}
}

// NewScheduler creates a daily scheduler for job
func NewScheduler(job Job, config ScheduleConfig) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler requires a job")
	}
	if config.Hour < 0 || config.Hour > 23 || config.Minute < 0 || config.Minute > 59 {
		return nil, fmt.Errorf("invalid schedule time %02d:%02d", config.Hour, config.Minute)
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Logger == nil {
		config.Logger = &keypool.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.After == nil {
		config.After = time.After
	}

	return &Scheduler{
		job:     job,
		config:  config,
		logger:  config.Logger,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Next returns the first scheduled run strictly after now
func (s *Scheduler) Next(now time.Time) time.Time {
	local := now.In(s.config.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.config.Hour, s.config.Minute, 0, 0, s.config.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Trigger requests an immediate run. It does not block; a pending request absorbs further ones.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run fires the job until ctx ends. Runs never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Recommendations scheduler started",
		keypool.Field{Key: "schedule", Value: fmt.Sprintf("%02d:%02d daily", s.config.Hour, s.config.Minute)},
	)

	for {
		now := s.config.Now()
		next := s.Next(now)
		s.logger.Debug("Next batch scheduled", keypool.Field{Key: "at", Value: next.Format(time.RFC3339)})

		select {
		case <-ctx.Done():
			s.logger.Info("Recommendations scheduler stopped")
			return ctx.Err()
		case <-s.config.After(next.Sub(now)):
			s.runOnce(ctx, "schedule")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	s.logger.Info("Running recommendations batch", keypool.Field{Key: "trigger", Value: reason})
	if _, err := s.job(ctx); err != nil {
		s.logger.Error("Critical error in batch generation",
			keypool.Field{Key: "trigger", Value: reason},
			keypool.Field{Key: "error", Value: err.Error()},
		)
	}
}
