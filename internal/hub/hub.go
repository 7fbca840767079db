// Package hub talks to the authoritative settlement system. The hub
// owns every cycle and position; this service only reads them and
// requests the two state transitions defined here.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/closeout/internal/models"
)

// SettlementSource is the outbound contract against the settlement hub.
// Implementations must bound every call with the request context.
type SettlementSource interface {
	// GetSettlement fetches the authoritative cycle document.
	GetSettlement(ctx context.Context, cycleID string) (*models.SettlementCycle, error)

	// MarkParticipantSettled asks the hub to flag one participant's
	// position as settled. Best-effort: the local ledger stays the
	// source of truth when this fails.
	MarkParticipantSettled(ctx context.Context, cycleID, accountID string) error

	// CloseCycle asks the hub to move the whole cycle to SETTLED.
	// Must be safe to retry.
	CloseCycle(ctx context.Context, cycleID string) error
}

var (
	// ErrNotFound means the hub has no settlement cycle with that ID.
	ErrNotFound = errors.New("settlement cycle not found")

	// ErrUnavailable means the hub could not be reached or answered
	// with a server error. The request that hit it is safe to retry.
	ErrUnavailable = errors.New("settlement hub unavailable")
)

// StatusError reports a response that is neither success, not found,
// nor a server fault: the hub understood the request and refused it.
// Not retriable as-is.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hub refused %s with status %d", e.Op, e.Code)
}
