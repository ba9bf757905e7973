// Package identity models payout identities and their destinations, and
// provides access to the payout identity store.
package identity

import (
	"context"
	"errors"
)

// Rail identifies a settlement technology. Each destination belongs to
// exactly one rail.
type Rail string

const (
	RailCardNetwork Rail = "card_network"
	RailStablecoin  Rail = "stablecoin"
)

// Valid reports whether r is a known rail.
func (r Rail) Valid() bool {
	return r == RailCardNetwork || r == RailStablecoin
}

// Status is the verification status of a payout identity.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Destination is a payout target attached to an identity: a connected
// card-network account reference or a stablecoin wallet address.
type Destination struct {
	Rail      Rail   `json:"rail"`
	Reference string `json:"reference"`
	Verified  bool   `json:"verified"`
	Primary   bool   `json:"primary"`
}

// Identity is a payee's verified legal identity with zero or more payout
// destinations. At most one destination per rail carries the primary flag.
type Identity struct {
	PayeeID      string        `json:"payee_id"`
	LegalName    string        `json:"legal_name"`
	Status       Status        `json:"status"`
	Destinations []Destination `json:"destinations"`
}

// PrimaryDestination returns the verified primary destination for the given
// rail, falling back to any verified destination for that rail when no
// primary is marked. Returns nil when the rail has no verified destination.
func (id *Identity) PrimaryDestination(rail Rail) *Destination {
	var fallback *Destination
	for i := range id.Destinations {
		d := &id.Destinations[i]
		if d.Rail != rail || !d.Verified {
			continue
		}
		if d.Primary {
			return d
		}
		if fallback == nil {
			fallback = d
		}
	}
	return fallback
}

// ErrNotFound is returned when the identity store has no record for a payee.
var ErrNotFound = errors.New("payout identity not found")

// Directory resolves payees to their payout identities. The canonical
// implementation talks to the external identity store; the in-memory
// implementation backs tests and dev mode.
type Directory interface {
	Lookup(ctx context.Context, payeeID string) (*Identity, error)
}
