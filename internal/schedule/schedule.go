// Package schedule runs the pipeline on a cron schedule. A tick that arrives
// while the previous run is still going is skipped, never queued: overlapping
// runs against the same warehouse would race on the audit trail.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"

	"salesetl/internal/logger"
)

// Job is one scheduled unit of work. Errors are logged, not fatal: the
// scheduler keeps ticking through failed runs.
type Job func(ctx context.Context) error

// Scheduler wraps robfig/cron with skip-if-running semantics.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// New creates a Scheduler.
func New(log *logger.Logger) *Scheduler {
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithChain(
			cron.SkipIfStillRunning(cl),
			cron.Recover(cl),
		),
	)
	return &Scheduler{cron: c, log: log}
}

// Run executes job once immediately, then on every tick of spec, until ctx is
// canceled. The immediate run's error is returned; scheduled runs only log.
func (s *Scheduler) Run(ctx context.Context, spec string, job Job) error {
	firstErr := job(ctx)
	if firstErr != nil {
		s.log.Errorw("initial run failed", "error", firstErr)
	}

	_, err := s.cron.AddFunc(spec, func() {
		if err := job(ctx); err != nil {
			s.log.Errorw("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	<-ctx.Done()

	// Let an in-flight run finish before returning.
	<-s.cron.Stop().Done()
	return firstErr
}

// cronLogger adapts our zap wrapper to cron's Logger interface.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
