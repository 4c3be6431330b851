// Package schedule runs a job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "0 9 * * *" for daily
// at 9am or "0 */6 * * 1-5" for every six hours on weekdays.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule: empty cron expression")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return sched, nil
}

// NextRun returns the first activation of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Job is one scheduled execution. An error is logged and the loop goes on.
type Job func(ctx context.Context) error

type Runner struct {
	expr   string
	sched  cron.Schedule
	job    Job
	logger *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewRunner(expr string, job Job, logger *zap.Logger) (*Runner, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		expr:   strings.TrimSpace(expr),
		sched:  sched,
		job:    job,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Run blocks until ctx is cancelled, executing the job at every activation.
// Runs never overlap: an activation missed while the job was running is
// skipped.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("watch scheduled", zap.String("cron", r.expr))
	for runs := 1; ; runs++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := r.now()
		next := r.sched.Next(now)
		wait := next.Sub(now)
		r.logger.Info("next run", zap.Time("at", next), zap.Duration("in", wait.Round(time.Second)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(wait):
		}

		start := r.now()
		if err := r.job(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("scheduled run failed", zap.Int("run", runs), zap.Error(err))
			continue
		}
		r.logger.Info("scheduled run complete", zap.Int("run", runs), zap.Duration("took", r.now().Sub(start)))
	}
}
