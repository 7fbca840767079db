package alerts

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/closeout/internal/directory"
	"github.com/mmynk/closeout/internal/models"
	"github.com/mmynk/closeout/internal/quorum"
)

type fakeResolver struct {
	identities map[string]*models.ParticipantIdentity
}

func (f *fakeResolver) ResolveAccount(ctx context.Context, accountID string) (*models.ParticipantIdentity, error) {
	if identity, ok := f.identities[accountID]; ok {
		return identity, nil
	}
	return nil, directory.ErrIdentityUnresolved
}

func TestPlaceholderAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"{{DFSP_EMAIL}}", true},
		{"${SETTLEMENT_EMAIL}", true},
		{"%EMAIL%", true},
		{"CHANGE_ME", true},
		{"change_me@example.com", true},
		{"no-at-sign.example.com", true},
		{"settlement@banquecentrale.example", false},
		{"ops+settlement@hub.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := placeholderAddress(tt.addr); got != tt.want {
				t.Errorf("placeholderAddress(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestResolveRecipients(t *testing.T) {
	resolver := &fakeResolver{identities: map[string]*models.ParticipantIdentity{
		"6": {
			AccountID: "6",
			Name:      "banquecentrale",
			Contacts:  []models.Contact{{Channel: directory.ChannelEmail, Address: "settlement@banquecentrale.example"}},
		},
		"7": {
			AccountID: "7",
			Name:      "ecobank",
			Contacts:  []models.Contact{{Channel: directory.ChannelEmail, Address: "{{DFSP_EMAIL}}"}},
		},
		// "8" resolves with no contacts, "9" does not resolve at all.
		"8": {AccountID: "8", Name: "unbanked"},
	}}

	cycle := &models.SettlementCycle{
		ID:    "32",
		State: models.StateTransfersRecorded,
		Participants: []models.Position{
			{AccountID: "6", NetAmount: decimal.NewFromInt(-50000), Currency: "XOF"},
			{AccountID: "7", NetAmount: decimal.NewFromInt(20000), Currency: "XOF"},
			{AccountID: "7", NetAmount: decimal.NewFromInt(100), Currency: "EUR"},
			{AccountID: "8", NetAmount: decimal.NewFromInt(15000), Currency: "XOF"},
			{AccountID: "9", NetAmount: decimal.NewFromInt(15000), Currency: "XOF"},
		},
	}

	d := NewDispatcher(resolver, nil, nil)
	recipients := d.resolveRecipients(context.Background(), cycle)

	// Participant 7 holds two positions but is one recipient.
	if len(recipients) != 4 {
		t.Fatalf("Expected 4 recipients, got %d", len(recipients))
	}

	byID := make(map[string]Recipient)
	for _, r := range recipients {
		byID[r.ParticipantID] = r
	}

	if r := byID["6"]; r.Name != "banquecentrale" || r.Address != "settlement@banquecentrale.example" {
		t.Errorf("Recipient 6 = %+v, want resolved name and address", r)
	}
	if r := byID["7"]; r.Address != "" {
		t.Errorf("Recipient 7 address = %q, want placeholder filtered", r.Address)
	}
	if r := byID["7"]; r.Name != "ecobank" {
		t.Errorf("Recipient 7 name = %q, want ecobank", r.Name)
	}
	if r := byID["8"]; r.Address != "" || r.Name != "unbanked" {
		t.Errorf("Recipient 8 = %+v, want name without address", r)
	}
	if r := byID["9"]; r.Name != "" || r.Address != "" {
		t.Errorf("Recipient 9 = %+v, want bare participant ID", r)
	}
}

func TestDispatchWithoutBus(t *testing.T) {
	d := NewDispatcher(&fakeResolver{}, nil, nil)
	cycle := &models.SettlementCycle{
		ID:    "32",
		State: models.StateSettled,
		Participants: []models.Position{
			{AccountID: "6", NetAmount: decimal.NewFromInt(-50000), Currency: "XOF"},
		},
	}

	// Log-only dispatch must not panic or error.
	d.CycleClosed(context.Background(), cycle, quorum.Status{Accepted: 1, Expected: 1, Satisfied: true})
	d.ParticipantConfirmed(context.Background(), "32", "6", quorum.Status{Accepted: 1, Expected: 4})
}
