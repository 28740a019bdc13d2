package engine

import (
	"context"
	"time"
)

// Schedule sets how often the background jobs run. A zero interval
// disables that job.
type Schedule struct {
	ReleaseEvery time.Duration
	ResumeEvery  time.Duration
	AuditEvery   time.Duration
	ResumeBatch  int
}

// Run executes the background jobs until ctx is done: releasing due holds,
// re-driving stalled mint requests and the random audit sweep.
func (e *Engine) Run(ctx context.Context, s Schedule) error {
	if s.ResumeBatch <= 0 {
		s.ResumeBatch = 100
	}
	release, stopRelease := ticker(s.ReleaseEvery)
	defer stopRelease()
	resume, stopResume := ticker(s.ResumeEvery)
	defer stopResume()
	audit, stopAudit := ticker(s.AuditEvery)
	defer stopAudit()

	e.logger.Info("scheduler started", "release_every", s.ReleaseEvery, "resume_every", s.ResumeEvery, "audit_every", s.AuditEvery)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-release:
			n, err := e.ReleaseHolds(ctx)
			if err != nil {
				e.logger.Error("release holds", "error", err)
			} else if n > 0 {
				e.logger.Info("holds released", "count", n)
			}
		case <-resume:
			n, err := e.mints.ResumePending(ctx, s.ResumeBatch)
			if err != nil {
				e.logger.Error("resume pending mints", "error", err)
			} else if n > 0 {
				e.logger.Info("pending mints locked", "count", n)
			}
		case <-audit:
			if _, err := e.AuditSweep(ctx, 0); err != nil {
				e.logger.Error("audit sweep", "error", err)
			}
		}
	}
}

// ticker returns a tick channel, or a nil channel that never fires when d
// is not positive.
func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
