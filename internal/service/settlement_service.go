// Package service drives the confirmation flow: reconcile a claim
// against the hub, record it durably, evaluate quorum, and close the
// cycle on the hub exactly once when every participant has confirmed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/closeout/internal/alerts"
	"github.com/mmynk/closeout/internal/hub"
	"github.com/mmynk/closeout/internal/metrics"
	"github.com/mmynk/closeout/internal/models"
	"github.com/mmynk/closeout/internal/quorum"
	"github.com/mmynk/closeout/internal/reconcile"
	"github.com/mmynk/closeout/internal/storage"
)

var (
	// ErrQuorumNotReached rejects a closure retry while confirmations
	// are still outstanding.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrClosureInFlight means another closure attempt holds the
	// marker. Left to the repair sweep if the holder crashed.
	ErrClosureInFlight = errors.New("closure already in flight")
)

// Confirmation outcome statuses.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// ConfirmationResult is the outcome of one confirmation submission.
type ConfirmationResult struct {
	// Status is accepted for a new confirmation, duplicate for a
	// replay of an already accepted one.
	Status string

	// Record is the durable confirmation this submission maps to: the
	// new record when accepted, the original when duplicate.
	Record *models.NotificationRecord

	// Quorum is the cycle's confirmation progress after this
	// submission.
	Quorum quorum.Status

	// Closed reports whether the cycle's closure is settled on the hub
	// by the time this submission returns.
	Closed bool

	// UpstreamStale is set when the per-participant state push to the
	// hub failed. The local record stands regardless.
	UpstreamStale bool

	// ClosurePending is set when quorum is satisfied but the hub close
	// did not succeed. The closure is retried until the hub accepts it.
	ClosurePending bool
}

// CycleStatus is a cycle's confirmation ledger joined with the local
// closure marker and, when the hub answers, the authoritative quorum.
type CycleStatus struct {
	CycleID string
	Records []*models.NotificationRecord

	// Quorum is nil when the hub could not be consulted; Records still
	// reflect the local ledger.
	Quorum *quorum.Status

	// CycleState is the hub's lifecycle state, empty when unreachable.
	CycleState models.CycleState

	HubReachable bool

	// Closure is nil when no closure has been attempted.
	Closure *models.ClosureMarker
}

// SettlementService implements the confirmation and closure flow.
type SettlementService struct {
	store     storage.Store
	source    hub.SettlementSource
	validator *reconcile.Validator
	alerts    *alerts.Dispatcher
	metrics   *metrics.Metrics
	locks     *keyedMutex
}

// NewSettlementService creates the service. dispatcher and m may be
// nil; alerts and metrics are then skipped.
func NewSettlementService(store storage.Store, source hub.SettlementSource, dispatcher *alerts.Dispatcher, m *metrics.Metrics) *SettlementService {
	return &SettlementService{
		store:     store,
		source:    source,
		validator: reconcile.NewValidator(source),
		alerts:    dispatcher,
		metrics:   m,
		locks:     newKeyedMutex(),
	}
}

// SubmitConfirmation processes one participant confirmation end to end.
//
// Reconciliation runs before the cycle lock is taken so hub round-trips
// never serialize behind each other. Everything after the lock works
// against the local ledger plus at most two hub state calls. A replay
// of an accepted confirmation returns StatusDuplicate with the original
// record and current quorum, and triggers no side effects.
func (s *SettlementService) SubmitConfirmation(ctx context.Context, cycleID string, claim models.ConfirmationClaim) (*ConfirmationResult, error) {
	validated, err := s.validator.Validate(ctx, cycleID, claim)
	if err != nil {
		if errors.Is(err, hub.ErrUnavailable) {
			s.metrics.ObserveConfirmation(metrics.OutcomeError)
		} else {
			s.metrics.ObserveConfirmation(metrics.OutcomeRejected)
			slog.Warn("confirmation rejected",
				"cycle_id", cycleID,
				"participant_id", claim.ParticipantID,
				"reason", err)
		}
		return nil, err
	}

	unlock := s.locks.lock(cycleID)
	defer unlock()

	settledAt := time.Now().UTC()
	if validated.Claim.SettledAt != nil {
		settledAt = *validated.Claim.SettledAt
	}
	rec := &models.NotificationRecord{
		CycleID:       cycleID,
		ParticipantID: validated.Claim.ParticipantID,
		Amount:        validated.Claim.Amount,
		Currency:      validated.Claim.Currency,
		Reference:     validated.Claim.Reference,
		SettledAt:     settledAt,
	}

	created, existing, err := s.store.RecordNotification(ctx, rec)
	if err != nil {
		s.metrics.ObserveConfirmation(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to record confirmation: %w", err)
	}

	if !created {
		count, err := s.store.CountNotifications(ctx, cycleID)
		if err != nil {
			return nil, fmt.Errorf("failed to count confirmations: %w", err)
		}
		status := quorum.Evaluate(count, validated.Cycle)
		slog.Info("duplicate confirmation ignored",
			"cycle_id", cycleID,
			"participant_id", validated.Claim.ParticipantID,
			"quorum", status.Progress())
		s.metrics.ObserveConfirmation(metrics.OutcomeDuplicate)
		return &ConfirmationResult{
			Status: StatusDuplicate,
			Record: existing,
			Quorum: status,
		}, nil
	}

	result := &ConfirmationResult{
		Status: StatusAccepted,
		Record: rec,
	}

	// The hub's per-participant state is a courtesy mirror of the local
	// ledger. A failed push leaves the hub stale, not the quorum wrong.
	if err := s.source.MarkParticipantSettled(ctx, cycleID, validated.Claim.ParticipantID); err != nil {
		slog.Warn("failed to mark participant settled on hub",
			"cycle_id", cycleID,
			"participant_id", validated.Claim.ParticipantID,
			"error", err)
		result.UpstreamStale = true
	}

	count, err := s.store.CountNotifications(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count confirmations: %w", err)
	}
	result.Quorum = quorum.Evaluate(count, validated.Cycle)
	s.metrics.ObserveConfirmation(metrics.OutcomeAccepted)

	slog.Info("confirmation accepted",
		"cycle_id", cycleID,
		"participant_id", validated.Claim.ParticipantID,
		"amount", validated.Claim.Amount,
		"currency", validated.Claim.Currency,
		"reference", validated.Claim.Reference,
		"quorum", result.Quorum.Progress())

	if !result.Quorum.Satisfied {
		s.alerts.ParticipantConfirmed(ctx, cycleID, validated.Claim.ParticipantID, result.Quorum)
		return result, nil
	}

	closed, err := s.driveClosure(ctx, validated.Cycle, result.Quorum)
	if err != nil {
		// The confirmation is durable and quorum holds; only the hub
		// transition is outstanding. Reported for retry, not failed.
		slog.Error("cycle closure failed",
			"cycle_id", cycleID,
			"error", err)
		result.ClosurePending = true
		return result, nil
	}
	result.Closed = closed
	return result, nil
}

// driveClosure performs the exactly-once closure of a cycle whose
// quorum is satisfied. Callers must hold the cycle lock. The closure
// marker is the arbiter: only the caller that moves it to CLOSING may
// call the hub, and the marker is resolved to CLOSED or CLOSE_FAILED
// before returning.
func (s *SettlementService) driveClosure(ctx context.Context, cycle *models.SettlementCycle, status quorum.Status) (bool, error) {
	acquired, state, err := s.store.BeginClosure(ctx, cycle.ID)
	if err != nil {
		return false, fmt.Errorf("failed to begin closure: %w", err)
	}
	if !acquired {
		if state == models.ClosureStateClosed {
			return true, nil
		}
		return false, fmt.Errorf("cycle %s: %w", cycle.ID, ErrClosureInFlight)
	}

	// The hub may already show SETTLED when a previous attempt closed
	// it but crashed before the marker was resolved. Reconcile the
	// marker without another close call.
	if cycle.State == models.StateSettled {
		if err := s.store.FinishClosure(ctx, cycle.ID, true, ""); err != nil {
			slog.Error("failed to resolve closure marker",
				"cycle_id", cycle.ID,
				"error", err)
		}
		slog.Info("cycle already settled on hub, marker reconciled", "cycle_id", cycle.ID)
		return true, nil
	}

	if err := s.source.CloseCycle(ctx, cycle.ID); err != nil {
		if ferr := s.store.FinishClosure(ctx, cycle.ID, false, err.Error()); ferr != nil {
			slog.Error("failed to record closure failure",
				"cycle_id", cycle.ID,
				"error", ferr)
		}
		s.metrics.ObserveClosureFailure()
		return false, fmt.Errorf("failed to close cycle %s on hub: %w", cycle.ID, err)
	}

	if err := s.store.FinishClosure(ctx, cycle.ID, true, ""); err != nil {
		// The hub accepted the close; the marker catches up on the next
		// sweep at worst.
		slog.Error("failed to resolve closure marker",
			"cycle_id", cycle.ID,
			"error", err)
	}
	s.metrics.ObserveCycleClosed()
	slog.Info("cycle closed",
		"cycle_id", cycle.ID,
		"quorum", status.Progress())
	s.alerts.CycleClosed(ctx, cycle, status)
	return true, nil
}

// RetryClosure re-drives the closure of a cycle whose quorum is
// satisfied but whose hub close has not succeeded yet. Used by the
// repair sweep and the operator retry endpoint. Safe to call on an
// already closed cycle.
func (s *SettlementService) RetryClosure(ctx context.Context, cycleID string) (quorum.Status, error) {
	cycle, err := s.source.GetSettlement(ctx, cycleID)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			return quorum.Status{}, fmt.Errorf("cycle %s: %w", cycleID, reconcile.ErrCycleNotFound)
		}
		return quorum.Status{}, err
	}

	unlock := s.locks.lock(cycleID)
	defer unlock()

	count, err := s.store.CountNotifications(ctx, cycleID)
	if err != nil {
		return quorum.Status{}, fmt.Errorf("failed to count confirmations: %w", err)
	}
	status := quorum.Evaluate(count, cycle)
	if !status.Satisfied && cycle.State != models.StateSettled {
		return status, fmt.Errorf("cycle %s: %w (%s)", cycleID, ErrQuorumNotReached, status.Progress())
	}

	if _, err := s.driveClosure(ctx, cycle, status); err != nil {
		return status, err
	}
	return status, nil
}

// Notifications returns a cycle's full confirmation ledger in arrival
// order.
func (s *SettlementService) Notifications(ctx context.Context, cycleID string) ([]*models.NotificationRecord, error) {
	return s.store.ListNotifications(ctx, cycleID)
}

// Status reports a cycle's confirmation ledger, closure marker, and
// hub-derived quorum. Hub failures degrade the response to local data
// instead of failing it; a cycle unknown to both the hub and the local
// ledger is not found.
func (s *SettlementService) Status(ctx context.Context, cycleID string) (*CycleStatus, error) {
	records, err := s.store.ListNotifications(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	closure, err := s.store.GetClosure(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to read closure marker: %w", err)
	}

	st := &CycleStatus{
		CycleID: cycleID,
		Records: records,
		Closure: closure,
	}

	cycle, err := s.source.GetSettlement(ctx, cycleID)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) && len(records) == 0 && closure == nil {
			return nil, fmt.Errorf("cycle %s: %w", cycleID, reconcile.ErrCycleNotFound)
		}
		slog.Warn("status served from local ledger only",
			"cycle_id", cycleID,
			"error", err)
		return st, nil
	}

	status := quorum.Evaluate(len(records), cycle)
	st.Quorum = &status
	st.CycleState = cycle.State
	st.HubReachable = true
	return st, nil
}
