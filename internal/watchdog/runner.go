package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Runner re-reads the rules file and runs the watchdog on a fixed interval.
type Runner struct {
	dog       *Watchdog
	rules     RuleWriter
	rulesPath string
	interval  time.Duration
	logger    *slog.Logger
}

// NewRunner creates a Runner. rulesPath may be empty to use only the rules
// already stored. If interval is <= 0 it defaults to one hour.
func NewRunner(dog *Watchdog, rules RuleWriter, rulesPath string, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Runner{dog: dog, rules: rules, rulesPath: rulesPath, interval: interval, logger: slog.Default()}
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("watchdog sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs the rules file into the store and evaluates the rules. An
// unreadable rules file is logged and the stored rules are used.
func (r *Runner) RunOnce(ctx context.Context) ([]Finding, error) {
	if r.rulesPath != "" {
		rules, err := LoadRules(r.rulesPath)
		if err != nil {
			r.logger.Warn("loading watchdog rules failed", "path", r.rulesPath, "error", err)
		} else if err := Seed(ctx, r.rules, rules); err != nil {
			r.logger.Warn("storing watchdog rules failed", "error", err)
		}
	}
	return r.dog.RunOnce(ctx)
}
