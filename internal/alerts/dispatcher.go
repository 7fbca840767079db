// Package alerts fans settlement progress out to stakeholders: one log
// line per recipient plus the hub operator, and one event on the bus
// when one is configured. Dispatch is fire-and-forget; nothing here
// returns an error, because alert delivery must never affect quorum
// accounting.
package alerts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/closeout/internal/directory"
	"github.com/mmynk/closeout/internal/metrics"
	"github.com/mmynk/closeout/internal/models"
	"github.com/mmynk/closeout/internal/quorum"
	"github.com/mmynk/closeout/pkg/messaging"
)

// Dispatcher resolves recipients and emits settlement alerts.
type Dispatcher struct {
	resolver directory.Resolver
	bus      *messaging.Client
	metrics  *metrics.Metrics
	source   string
}

// NewDispatcher creates a Dispatcher. bus and m may be nil; alerts then
// go to the log only. A nil *Dispatcher is valid and dispatches
// nothing.
func NewDispatcher(resolver directory.Resolver, bus *messaging.Client, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		bus:      bus,
		metrics:  m,
		source:   "closeout",
	}
}

// CycleClosed announces the final closure of a cycle to every
// participant and the hub operator.
func (d *Dispatcher) CycleClosed(ctx context.Context, cycle *models.SettlementCycle, status quorum.Status) {
	if d == nil {
		return
	}
	recipients := d.resolveRecipients(ctx, cycle)

	for _, r := range recipients {
		if r.Address != "" {
			slog.Info("cycle closed, participant alerted",
				"cycle_id", cycle.ID,
				"participant", r.Name,
				"participant_id", r.ParticipantID,
				"address", r.Address)
		} else {
			slog.Info("cycle closed, participant alerted without address",
				"cycle_id", cycle.ID,
				"participant_id", r.ParticipantID)
		}
	}
	slog.Info("cycle closed, hub operator alerted",
		"cycle_id", cycle.ID,
		"quorum", status.Progress())

	d.publish(ctx, SubjectCycleClosed, Event{
		Kind:       KindCycleClosed,
		CycleID:    cycle.ID,
		Quorum:     status,
		Recipients: recipients,
	})
}

// ParticipantConfirmed announces partial progress after one accepted
// confirmation.
func (d *Dispatcher) ParticipantConfirmed(ctx context.Context, cycleID, participantID string, status quorum.Status) {
	if d == nil {
		return
	}
	slog.Info("participant confirmation recorded",
		"cycle_id", cycleID,
		"participant_id", participantID,
		"quorum", status.Progress())

	d.publish(ctx, SubjectParticipantConfirmed, Event{
		Kind:       KindParticipantConfirmed,
		CycleID:    cycleID,
		Quorum:     status,
		Recipients: []Recipient{{ParticipantID: participantID}},
	})
}

// resolveRecipients maps every position to a recipient. Resolution
// degrades per identity: an unresolved account or a filtered address
// still yields a recipient, just without a deliverable contact.
func (d *Dispatcher) resolveRecipients(ctx context.Context, cycle *models.SettlementCycle) []Recipient {
	seen := make(map[string]bool, len(cycle.Participants))
	recipients := make([]Recipient, 0, len(cycle.Participants))

	for _, position := range cycle.Participants {
		if seen[position.AccountID] {
			continue
		}
		seen[position.AccountID] = true

		recipient := Recipient{ParticipantID: position.AccountID}

		identity, err := d.resolver.ResolveAccount(ctx, position.AccountID)
		if err != nil {
			slog.Debug("recipient resolution failed",
				"cycle_id", cycle.ID,
				"account_id", position.AccountID,
				"error", err)
			recipients = append(recipients, recipient)
			continue
		}

		recipient.Name = identity.Name
		for _, contact := range identity.Contacts {
			if contact.Channel != directory.ChannelEmail {
				continue
			}
			if placeholderAddress(contact.Address) {
				slog.Debug("placeholder address filtered",
					"cycle_id", cycle.ID,
					"participant", identity.Name,
					"address", contact.Address)
				continue
			}
			recipient.Address = contact.Address
			break
		}

		recipients = append(recipients, recipient)
	}

	return recipients
}

func (d *Dispatcher) publish(ctx context.Context, subject string, event Event) {
	if d.bus == nil {
		return
	}

	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	event.Source = d.source

	if err := d.bus.Publish(ctx, subject, event); err != nil {
		slog.Warn("alert publish failed",
			"subject", subject,
			"cycle_id", event.CycleID,
			"error", err)
		return
	}
	d.metrics.ObserveAlertPublished(event.Kind)
}

// placeholderAddress reports whether an address is an unresolved
// template artifact or otherwise undeliverable. Directory records in
// test environments often carry values like {{DFSP_EMAIL}} or
// CHANGE_ME that must never reach a mailer.
func placeholderAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	if strings.Contains(addr, "{{") || strings.Contains(addr, "${") {
		return true
	}
	if strings.HasPrefix(addr, "%") && strings.HasSuffix(addr, "%") {
		return true
	}
	if strings.Contains(strings.ToUpper(addr), "CHANGE_ME") {
		return true
	}
	return !strings.Contains(addr, "@")
}
