package models

import "github.com/shopspring/decimal"

// CycleState is the lifecycle state of a settlement cycle as reported
// by the hub. The values are the hub's own state strings.
type CycleState string

const (
	// StatePendingSettlement means the cycle exists but transfer amounts
	// are still being assembled. Confirmations are premature here.
	StatePendingSettlement CycleState = "PENDING_SETTLEMENT"

	// StateTransfersRecorded is the first state in which net amounts are
	// frozen and an external confirmation can be checked against them.
	StateTransfersRecorded CycleState = "PS_TRANSFERS_RECORDED"

	// StateTransfersReserved means funds have been reserved for the
	// cycle's transfers.
	StateTransfersReserved CycleState = "PS_TRANSFERS_RESERVED"

	// StateTransfersCommitted means all transfers in the cycle have been
	// committed on the ledger.
	StateTransfersCommitted CycleState = "PS_TRANSFERS_COMMITTED"

	// StateSettling is a transitional state some hubs report while the
	// final transition is in flight.
	StateSettling CycleState = "SETTLING"

	// StateSettled is terminal: every party confirmed and the cycle was
	// closed.
	StateSettled CycleState = "SETTLED"

	// StateAborted is terminal: the hub abandoned the cycle. No
	// confirmation can ever be accepted for it.
	StateAborted CycleState = "ABORTED"
)

// Confirmable reports whether external confirmations may be accepted in
// this state. Amounts are only numerically frozen from
// PS_TRANSFERS_RECORDED onward; accepting earlier would confirm an
// unknown quantity.
func (s CycleState) Confirmable() bool {
	switch s {
	case StateTransfersRecorded, StateTransfersReserved, StateTransfersCommitted:
		return true
	}
	return false
}

// Terminal reports whether the hub considers the cycle finished.
func (s CycleState) Terminal() bool {
	return s == StateSettled || s == StateAborted
}

// Position is one party's net obligation within a settlement cycle:
// a signed amount in a single currency. Negative means the participant
// pays in, positive means the participant is paid out. One position is
// one required confirming party.
type Position struct {
	// AccountID identifies the participant's settlement account within
	// the cycle. Confirmation claims reference this ID.
	AccountID string `json:"accountId"`

	// NetAmount is the signed net obligation.
	NetAmount decimal.Decimal `json:"netAmount"`

	// Currency is the ISO 4217 code of the obligation.
	Currency string `json:"currency"`

	// State is the hub's per-participant settlement state, e.g.
	// PS_TRANSFERS_COMMITTED or SETTLED.
	State string `json:"state,omitempty"`
}

// SettlementCycle is a read-only snapshot of a cycle as held by the
// hub: its lifecycle state and the positions of every participant
// expected to confirm.
type SettlementCycle struct {
	ID           string     `json:"id"`
	State        CycleState `json:"state"`
	Participants []Position `json:"participants"`
}

// PositionFor returns the positions belonging to accountID. A
// participant normally has one position per currency.
func (c *SettlementCycle) PositionFor(accountID string) []Position {
	var out []Position
	for _, p := range c.Participants {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}

// Expected is the number of confirming parties required to close the
// cycle: one per position.
func (c *SettlementCycle) Expected() int {
	return len(c.Participants)
}
