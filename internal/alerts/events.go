package alerts

import (
	"time"

	"github.com/mmynk/closeout/internal/quorum"
)

// Event kinds.
const (
	KindParticipantConfirmed = "PARTICIPANT_CONFIRMED"
	KindCycleClosed          = "CYCLE_CLOSED"
)

// NATS subjects the dispatcher publishes to.
const (
	SubjectParticipantConfirmed = "settlement.participant.confirmed"
	SubjectCycleClosed          = "settlement.cycle.closed"
)

// Event is the wire form of a settlement alert. Consumers (mailers,
// dashboards) subscribe to the subjects above.
type Event struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	CycleID    string        `json:"cycleId"`
	Quorum     quorum.Status `json:"quorum"`
	Recipients []Recipient   `json:"recipients"`
	Timestamp  time.Time     `json:"timestamp"`
	Source     string        `json:"source"`
}

// Recipient is one alerted party. Name and Address stay empty when the
// directory could not resolve the account or the registered address was
// filtered as a placeholder; the party is still named by its account.
type Recipient struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name,omitempty"`
	Address       string `json:"address,omitempty"`
}
