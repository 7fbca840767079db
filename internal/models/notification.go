package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationRecord is one accepted settlement confirmation. At most
// one record exists per (CycleID, ParticipantID); that pair is the
// idempotency key for the whole confirmation flow.
type NotificationRecord struct {
	// ID is the unique identifier for the record (UUID format).
	ID string `json:"id"`

	// CycleID is the settlement cycle the confirmation belongs to.
	CycleID string `json:"cycleId"`

	// ParticipantID is the confirming settlement account.
	ParticipantID string `json:"participantId"`

	// Amount and Currency echo the validated claim.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Reference is the settlement proof supplied with the claim.
	Reference string `json:"reference"`

	// SettledAt is when the participant reported the funds moved.
	SettledAt time.Time `json:"settledAt"`

	// ReceivedAt is when this service accepted the confirmation.
	ReceivedAt time.Time `json:"receivedAt"`
}

// ClosureState tracks the local view of a cycle's closure attempt.
// A cycle with no marker row is still awaiting quorum.
type ClosureState string

const (
	// ClosureStateClosing means a closure call to the hub is in flight.
	// The marker is written before the call so a crash leaves evidence.
	ClosureStateClosing ClosureState = "CLOSING"

	// ClosureStateClosed is terminal: the hub accepted the close.
	ClosureStateClosed ClosureState = "CLOSED"

	// ClosureStateFailed means quorum was reached but the close call
	// failed. The cycle stays locally complete and the closure must be
	// retried until the hub accepts it.
	ClosureStateFailed ClosureState = "CLOSE_FAILED"
)

// ClosureMarker is the durable record of a cycle's closure attempts.
// Its atomic check-and-set in storage is what makes "close exactly
// once" hold across concurrent confirmations and restarts.
type ClosureMarker struct {
	CycleID     string       `json:"cycleId"`
	State       ClosureState `json:"state"`
	AttemptedAt time.Time    `json:"attemptedAt"`
	ClosedAt    *time.Time   `json:"closedAt,omitempty"`

	// LastError holds the cause of the most recent failed attempt.
	LastError string `json:"lastError,omitempty"`
}

// Closed reports whether the closure reached its terminal success
// state.
func (m *ClosureMarker) Closed() bool {
	return m != nil && m.State == ClosureStateClosed
}
