package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/closeout/internal/models"
)

var (
	// ErrCycleNotFound means the hub has no cycle with the claimed ID.
	ErrCycleNotFound = errors.New("settlement cycle not found")

	// ErrCycleAlreadyClosed means the cycle finished through this exact
	// protocol: it is already SETTLED and accepts no further
	// confirmations.
	ErrCycleAlreadyClosed = errors.New("settlement cycle already closed")

	// ErrParticipantNotInCycle means the claimed participant holds no
	// position in the cycle. Authorization-class: the claim is refused
	// regardless of its amount or currency.
	ErrParticipantNotInCycle = errors.New("participant not in cycle")
)

// ClaimError reports a malformed claim before any domain logic runs.
// Not retriable as-is: the caller must correct the listed fields.
type ClaimError struct {
	Fields []string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("invalid claim: check %s", strings.Join(e.Fields, ", "))
}

// InvalidStateError rejects a confirmation because the cycle is outside
// the confirmable window: either amounts are not frozen yet, or the hub
// aborted the cycle.
type InvalidStateError struct {
	State models.CycleState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cycle state %s does not accept confirmations", e.State)
}

// CurrencyMismatchError means the participant holds no position in the
// claimed currency.
type CurrencyMismatchError struct {
	ParticipantID string
	Claimed       string
	Available     []string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("participant %s has no %s position (has %s)",
		e.ParticipantID, e.Claimed, strings.Join(e.Available, ", "))
}

// AmountMismatchError means the claimed amount differs from the
// authoritative net position beyond the rounding tolerance.
// Integrity-class: refused and logged for operator review.
type AmountMismatchError struct {
	Claimed  decimal.Decimal
	Expected decimal.Decimal
	Currency string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("claimed amount %s %s does not match net position %s",
		e.Claimed, e.Currency, e.Expected)
}
