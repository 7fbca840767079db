// Package quorum decides when a settlement cycle has collected every
// required confirmation.
package quorum

import (
	"fmt"
	"log/slog"

	"github.com/mmynk/closeout/internal/models"
)

// Status is the accepted/expected ratio for a cycle at one instant.
// Derived on demand from the ledger and the hub snapshot, never stored.
type Status struct {
	Accepted  int  `json:"accepted"`
	Expected  int  `json:"expected"`
	Satisfied bool `json:"satisfied"`
}

// Evaluate derives the quorum status from the ledger count and the
// authoritative cycle snapshot. Every position is one required
// confirming party. accepted can exceed expected only when the hub's
// participant set shrank between reads; that is logged as an anomaly
// and still counts as satisfied.
func Evaluate(accepted int, cycle *models.SettlementCycle) Status {
	expected := cycle.Expected()
	if accepted > expected {
		slog.Warn("more confirmations than expected participants",
			"cycle_id", cycle.ID,
			"accepted", accepted,
			"expected", expected)
	}
	return Status{
		Accepted:  accepted,
		Expected:  expected,
		Satisfied: accepted >= expected,
	}
}

// Progress renders the ratio for status responses and log lines.
func (s Status) Progress() string {
	return fmt.Sprintf("%d of %d", s.Accepted, s.Expected)
}
