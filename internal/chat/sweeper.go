package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultSweepBatch = 5

// Sweeper reprocesses assistant messages left pending by a crash or an
// interrupted request. Each message is attempted once per sweep and ends
// done or error. Mutating tools are only ever filed for approval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. If interval is <= 0 it defaults to one
// minute; a batch <= 0 defaults to 5 messages.
func NewSweeper(svc *Service, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{svc: svc, interval: interval, batch: batch, logger: slog.Default()}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes up to batch pending messages, oldest first, and returns
// how many it handled.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	msgs, err := s.svc.store.PendingMessages(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("listing pending messages: %w", err)
	}
	for _, m := range msgs {
		if ctx.Err() != nil {
			return len(msgs), ctx.Err()
		}
		if _, err := s.svc.ProcessPending(ctx, m); err != nil {
			s.logger.Warn("pending message failed", "message_id", m.ID, "error", err)
		}
	}
	if len(msgs) > 0 {
		s.logger.Info("pending messages swept", "count", len(msgs))
	}
	return len(msgs), nil
}
