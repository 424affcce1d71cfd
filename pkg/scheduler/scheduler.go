package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// Task is one unit of periodic work. now is the occurrence being served.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) error
}

// Scheduler runs its tasks at every occurrence of an RRULE. A failing task is
// logged and does not stop the others or later occurrences.
type Scheduler struct {
	rule   *rrule.RRule
	tasks  []Task
	logger *zap.Logger
	now    func() time.Time
}

// New parses ruleStr and anchors it at local midnight of anchor's day in loc,
// so FREQ=HOURLY fires on the hour and FREQ=DAILY;BYHOUR=5 fires at 05:00 local
func New(ruleStr string, loc *time.Location, anchor time.Time, logger *zap.Logger, tasks ...Task) (*Scheduler, error) {
	rule, err := rrule.StrToRRule(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule rrule: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	local := anchor.In(loc)
	rule.DTStart(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc))

	return &Scheduler{
		rule:   rule,
		tasks:  tasks,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Next returns the first occurrence strictly after t, or false if the rule is exhausted
func (s *Scheduler) Next(t time.Time) (time.Time, bool) {
	next := s.rule.After(t, false)
	return next, !next.IsZero()
}

// Run blocks until ctx is cancelled or the rule has no more occurrences
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next, ok := s.Next(s.now())
		if !ok {
			s.logger.Info("Schedule exhausted, stopping")
			return nil
		}
		s.logger.Debug("Next scheduled run", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.RunOnce(ctx, next)
		}
	}
}

// RunOnce runs every task for a single occurrence and returns the number that failed
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) int {
	failed := 0
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return failed
		}
		start := time.Now()
		if err := task.Run(ctx, now); err != nil {
			failed++
			s.logger.Error("Scheduled task failed", zap.String("task", task.Name), zap.Error(err))
			continue
		}
		s.logger.Info("Scheduled task finished",
			zap.String("task", task.Name),
			zap.Duration("took", time.Since(start)))
	}
	return failed
}
