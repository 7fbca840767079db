package models

// Contact is a single notification channel for a participant, e.g. the
// email address registered for settlement position changes.
type Contact struct {
	// Channel names the contact type, e.g. "email".
	Channel string `json:"channel"`

	// Address is the channel-specific destination.
	Address string `json:"address"`
}

// ParticipantIdentity is the directory-resolved identity behind a
// settlement account: who to name and how to reach them in alerts.
// Resolution is best effort; an unresolved identity degrades alert
// delivery only, never quorum accounting.
type ParticipantIdentity struct {
	// AccountID is the settlement account the identity was resolved
	// from.
	AccountID string `json:"accountId"`

	// Name is the participant's registered display name.
	Name string `json:"name"`

	// Contacts lists the participant's registered notification
	// channels. May be empty.
	Contacts []Contact `json:"contacts,omitempty"`
}
