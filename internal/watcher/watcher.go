// Package watcher runs the refresh on a schedule.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Watcher runs a Job every interval until its context ends.
type Watcher struct {
	interval time.Duration
	job      Job
	clock    clock.Clock
	log      *slog.Logger
}

// New creates a Watcher. An interval of 0 runs the job once.
func New(interval time.Duration, job Job, clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Watcher{
		interval: interval,
		job:      job,
		clock:    clk,
		log:      slog.With("component", "watcher"),
	}
}

// Run executes the job immediately and then on every tick. In one-shot mode
// it returns the job's error. Otherwise a failed cycle is logged and the
// loop continues; Run returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return w.job(ctx)
	}

	w.log.Info("watching for new releases", "interval", w.interval)
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	cycle := 0
	for {
		cycle++
		if err := w.job(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("refresh cycle failed", "cycle", cycle, "error", err)
		}

		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped", "cycles", cycle)
			return nil
		case <-ticker.C:
		}
	}
}
