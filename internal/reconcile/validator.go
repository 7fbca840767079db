// Package reconcile checks a participant's confirmation claim against
// the authoritative settlement record: the cycle must exist and be
// confirmable, the participant must hold a position in it, and the
// claimed amount must match that position. Nothing durable happens
// here; a claim that fails reconciliation leaves no trace.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/closeout/internal/hub"
	"github.com/mmynk/closeout/internal/models"
)

// amountTolerance absorbs rounding differences between a participant's
// bank statement and the hub's net position: 0.01 in the position's
// currency unit.
var amountTolerance = decimal.New(1, -2)

// Validator reconciles claims against the settlement hub.
type Validator struct {
	source hub.SettlementSource
}

// NewValidator creates a Validator reading cycle state from source.
func NewValidator(source hub.SettlementSource) *Validator {
	return &Validator{source: source}
}

// ValidatedClaim is a claim that survived reconciliation, bundled with
// the matched position and the cycle snapshot it was checked against.
// The snapshot lets quorum evaluation reuse the fetch instead of
// hitting the hub again.
type ValidatedClaim struct {
	Claim    models.ConfirmationClaim
	Position models.Position
	Cycle    *models.SettlementCycle
}

// Validate runs the full reconciliation sequence for one claim.
//
// Field checks run before any remote call. The cycle must exist and be
// in a confirmable state (SETTLED maps to ErrCycleAlreadyClosed, every
// other non-confirmable state to InvalidStateError). The participant
// must hold a position in the claimed currency, and the claimed amount
// must match the absolute net amount within tolerance. Sign is ignored:
// a position may be a net debtor or creditor, the confirmation covers
// either direction.
func (v *Validator) Validate(ctx context.Context, cycleID string, claim models.ConfirmationClaim) (*ValidatedClaim, error) {
	claim.Currency = strings.ToUpper(strings.TrimSpace(claim.Currency))
	if err := checkClaim(cycleID, claim); err != nil {
		return nil, err
	}

	cycle, err := v.source.GetSettlement(ctx, cycleID)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrCycleNotFound)
		}
		return nil, err
	}

	if cycle.State == models.StateSettled {
		return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrCycleAlreadyClosed)
	}
	if !cycle.State.Confirmable() {
		return nil, &InvalidStateError{State: cycle.State}
	}

	positions := cycle.PositionFor(claim.ParticipantID)
	if len(positions) == 0 {
		return nil, fmt.Errorf("participant %s: %w", claim.ParticipantID, ErrParticipantNotInCycle)
	}

	var match *models.Position
	for i := range positions {
		if positions[i].Currency == claim.Currency {
			match = &positions[i]
			break
		}
	}
	if match == nil {
		available := make([]string, 0, len(positions))
		for _, p := range positions {
			available = append(available, p.Currency)
		}
		return nil, &CurrencyMismatchError{
			ParticipantID: claim.ParticipantID,
			Claimed:       claim.Currency,
			Available:     available,
		}
	}

	expected := match.NetAmount.Abs()
	if claim.Amount.Sub(expected).Abs().GreaterThan(amountTolerance) {
		return nil, &AmountMismatchError{
			Claimed:  claim.Amount,
			Expected: expected,
			Currency: claim.Currency,
		}
	}

	return &ValidatedClaim{
		Claim:    claim,
		Position: *match,
		Cycle:    cycle,
	}, nil
}

// checkClaim enforces the field-level constraints before any remote
// call: non-empty IDs and reference, positive amount, 3-letter
// currency code.
func checkClaim(cycleID string, claim models.ConfirmationClaim) error {
	var fields []string
	if strings.TrimSpace(cycleID) == "" {
		fields = append(fields, "cycleId")
	}
	if strings.TrimSpace(claim.ParticipantID) == "" {
		fields = append(fields, "participantId")
	}
	if claim.Amount.LessThanOrEqual(decimal.Zero) {
		fields = append(fields, "amount")
	}
	if !validCurrency(claim.Currency) {
		fields = append(fields, "currency")
	}
	if strings.TrimSpace(claim.Reference) == "" {
		fields = append(fields, "reference")
	}
	if len(fields) > 0 {
		return &ClaimError{Fields: fields}
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
