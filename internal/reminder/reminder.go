// Package reminder runs a periodic scan for tasks coming due and reports
// them through the operational log. It has no user-visible effect; it
// exists so operators can watch backlog pressure without querying the
// database by hand.
package reminder

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"taskchat/internal/task"
)

// Scanner schedules the due-task scan.
type Scanner struct {
	cron    *cron.Cron
	tasks   *task.Store
	log     *zap.Logger
	horizon time.Duration
	now     func() time.Time
}

// New creates a scanner. horizon is how far ahead of now a due date
// counts as "due soon".
func New(tasks *task.Store, log *zap.Logger, horizon time.Duration) *Scanner {
	return &Scanner{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		tasks:   tasks,
		log:     log,
		horizon: horizon,
		now:     time.Now,
	}
}

// Start registers the scan on the given cron spec and starts the
// scheduler. An invalid spec is returned as an error before anything runs.
func (s *Scanner) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.Scan); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("reminder scan scheduled", zap.String("cron", spec), zap.Duration("horizon", s.horizon))
	return nil
}

// Stop halts the scheduler and waits for a running scan to finish.
func (s *Scanner) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Scan logs every incomplete task due within the horizon. Failures are
// logged and swallowed; the next tick tries again.
func (s *Scanner) Scan() {
	cutoff := s.now().UTC().Add(s.horizon).Format(task.DateLayout)
	due, err := s.tasks.DueBefore(cutoff)
	if err != nil {
		s.log.Error("reminder scan failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	s.log.Info("tasks due soon", zap.Int("count", len(due)))
	for _, t := range due {
		s.log.Debug("task due",
			zap.String("owner", t.Owner),
			zap.Int64("task_id", t.ID),
			zap.String("title", t.Title),
			zap.String("due_date", t.DueDate),
		)
	}
}
