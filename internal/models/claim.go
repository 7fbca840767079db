package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmationClaim is a participant's assertion that it settled its
// net obligation for a cycle outside the ledger. Claims are ephemeral
// input: nothing durable happens until one survives reconciliation.
type ConfirmationClaim struct {
	// ParticipantID is the settlement account the claim is made for.
	// It must match a Position.AccountID in the cycle.
	ParticipantID string `json:"participantId"`

	// Amount is the settled amount as reported by the participant.
	// Always positive; direction is irrelevant because the authoritative
	// position carries the sign.
	Amount decimal.Decimal `json:"amount"`

	// Currency is the 3-letter ISO 4217 code of the settled amount.
	Currency string `json:"currency"`

	// Reference is the participant's proof of settlement, typically an
	// RTGS or bank transfer reference.
	Reference string `json:"reference"`

	// SettledAt is when the funds moved, if the participant reports it.
	// Defaults to receipt time when absent.
	SettledAt *time.Time `json:"settledAt,omitempty"`
}
