// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/mmynk/closeout/internal/models"
)

// Store defines the interface for the local settlement ledger: accepted
// confirmations, closure markers, and operator accounts. This
// abstraction allows swapping storage backends (SQLite, PostgreSQL,
// etc.) without changing the service layer.
//
// RecordNotification and BeginClosure are the two linearization points
// of the confirmation flow; both must be atomic with respect to
// concurrent callers.
type Store interface {
	// RecordNotification persists a confirmation keyed on
	// (CycleID, ParticipantID). When no record exists yet it inserts
	// rec and returns created=true. When a record already exists the
	// insert is a no-op and the existing record is returned with
	// created=false. Exactly one of any set of concurrent callers for
	// the same key observes created=true.
	RecordNotification(ctx context.Context, rec *models.NotificationRecord) (created bool, existing *models.NotificationRecord, err error)

	// CountNotifications returns the number of accepted confirmations
	// for a cycle.
	CountNotifications(ctx context.Context, cycleID string) (int, error)

	// ListNotifications returns a cycle's accepted confirmations
	// ordered by arrival.
	ListNotifications(ctx context.Context, cycleID string) ([]*models.NotificationRecord, error)

	// BeginClosure attempts to take ownership of a cycle's closure.
	// It atomically moves the marker from absent or CLOSE_FAILED to
	// CLOSING and returns acquired=true. When the marker is already
	// CLOSING or CLOSED it returns acquired=false and the current
	// state, and the caller must not drive a close call.
	BeginClosure(ctx context.Context, cycleID string) (acquired bool, state models.ClosureState, err error)

	// FinishClosure resolves an in-flight closure attempt: success
	// moves the marker to CLOSED, failure to CLOSE_FAILED with cause
	// recorded. A marker already in CLOSED is never overwritten.
	FinishClosure(ctx context.Context, cycleID string, success bool, cause string) error

	// GetClosure returns the closure marker for a cycle, or nil when
	// no closure has been attempted.
	GetClosure(ctx context.Context, cycleID string) (*models.ClosureMarker, error)

	// ListClosuresByState returns all markers in the given state,
	// oldest attempt first.
	ListClosuresByState(ctx context.Context, state models.ClosureState) ([]*models.ClosureMarker, error)

	// CreateOperator inserts a new operator account.
	CreateOperator(ctx context.Context, op *models.Operator) error

	// GetOperatorByEmail retrieves an operator by email. Returns
	// (nil, nil) when no operator with that email exists.
	GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error)

	// Close releases any resources held by the store.
	Close() error
}
