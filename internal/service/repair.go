package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mmynk/closeout/internal/models"
)

// staleClosingAfter is how long a CLOSING marker may sit before the
// sweep treats its owner as crashed. Hub calls time out in seconds, so
// a minute-old CLOSING can no longer have a live owner.
const staleClosingAfter = time.Minute

// Repairer periodically re-drives closures that did not reach CLOSED:
// markers stuck in CLOSING after a crash are failed over, and
// CLOSE_FAILED markers are retried until the hub accepts the close.
type Repairer struct {
	service    *SettlementService
	interval   time.Duration
	staleAfter time.Duration
}

// NewRepairer creates a Repairer sweeping every interval.
func NewRepairer(svc *SettlementService, interval time.Duration) *Repairer {
	return &Repairer{
		service:    svc,
		interval:   interval,
		staleAfter: staleClosingAfter,
	}
}

// Run sweeps until ctx is cancelled. Call in its own goroutine.
func (r *Repairer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("closure repair sweep started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("closure repair sweep stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one repair pass. Exported so the sweep can also be driven
// directly, e.g. once at startup before the ticker begins.
func (r *Repairer) Sweep(ctx context.Context) {
	r.failStaleClosing(ctx)
	r.retryFailed(ctx)
}

// failStaleClosing moves abandoned CLOSING markers to CLOSE_FAILED so
// the normal retry path can pick them up.
func (r *Repairer) failStaleClosing(ctx context.Context) {
	markers, err := r.service.store.ListClosuresByState(ctx, models.ClosureStateClosing)
	if err != nil {
		slog.Error("repair sweep: failed to list in-flight closures", "error", err)
		return
	}

	for _, m := range markers {
		age := time.Since(m.AttemptedAt)
		if age < r.staleAfter {
			continue
		}
		slog.Warn("closure attempt abandoned, failing over",
			"cycle_id", m.CycleID,
			"age", age.Round(time.Second))
		if err := r.service.store.FinishClosure(ctx, m.CycleID, false, "closure interrupted"); err != nil {
			slog.Error("repair sweep: failed to fail over closure",
				"cycle_id", m.CycleID,
				"error", err)
		}
	}
}

// retryFailed re-drives every CLOSE_FAILED closure.
func (r *Repairer) retryFailed(ctx context.Context) {
	markers, err := r.service.store.ListClosuresByState(ctx, models.ClosureStateFailed)
	if err != nil {
		slog.Error("repair sweep: failed to list failed closures", "error", err)
		return
	}
	r.service.metrics.SetRepairBacklog(len(markers))
	if len(markers) == 0 {
		return
	}

	slog.Info("repair sweep retrying failed closures", "count", len(markers))
	for _, m := range markers {
		status, err := r.service.RetryClosure(ctx, m.CycleID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("repair sweep: closure retry failed",
				"cycle_id", m.CycleID,
				"last_error", m.LastError,
				"error", err)
			continue
		}
		slog.Info("repair sweep: closure repaired",
			"cycle_id", m.CycleID,
			"quorum", status.Progress())
	}
}
