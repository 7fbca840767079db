// Package directory resolves opaque settlement account IDs to
// participant identities via the central ledger. Resolution is used for
// alert delivery only; a failed lookup never blocks quorum accounting.
package directory

import (
	"context"
	"errors"

	"github.com/mmynk/closeout/internal/models"
)

// ChannelEmail is the contact channel populated from the ledger's
// settlement email endpoint.
const ChannelEmail = "email"

// endpointTypeSettlementEmail is the ledger endpoint type carrying the
// address participants registered for settlement position changes.
const endpointTypeSettlementEmail = "SETTLEMENT_TRANSFER_POSITION_CHANGE_EMAIL"

// Resolver maps a settlement account ID to a participant identity.
type Resolver interface {
	ResolveAccount(ctx context.Context, accountID string) (*models.ParticipantIdentity, error)
}

// ErrIdentityUnresolved means the directory has no participant owning
// the account.
var ErrIdentityUnresolved = errors.New("identity unresolved")
