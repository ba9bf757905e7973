// Package rail decides which settlement rail a royalty payout travels over.
package rail

import (
	"errors"
	"fmt"

	"github.com/soundlease/payrail/internal/identity"
)

// Method is the settlement method requested for a sale: a concrete rail or
// the hybrid policy that picks one.
type Method string

const (
	MethodCardNetwork Method = Method(identity.RailCardNetwork)
	MethodStablecoin  Method = Method(identity.RailStablecoin)
	MethodHybrid      Method = "hybrid"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodCardNetwork, MethodStablecoin, MethodHybrid:
		return true
	}
	return false
}

// Policy configures hybrid routing. The fallback order is an explicit input
// rather than a hardcoded preference; operators who want card-first hybrid
// routing set HybridOrder accordingly.
type Policy struct {
	// AllowCrypto gates the stablecoin rail entirely. When false, hybrid
	// routing never picks stablecoin even for payees with verified wallets.
	AllowCrypto bool

	// HybridOrder is the rail preference order for hybrid requests.
	HybridOrder []identity.Rail
}

// DefaultPolicy prefers stablecoin for hybrid requests, falling back to the
// card network.
func DefaultPolicy() Policy {
	return Policy{
		AllowCrypto: true,
		HybridOrder: []identity.Rail{identity.RailStablecoin, identity.RailCardNetwork},
	}
}

var (
	// ErrIdentityNotVerified is returned when the payee's identity has not
	// completed verification.
	ErrIdentityNotVerified = errors.New("payout identity is not verified")

	// ErrNoEligibleDestination is returned when the payee has no verified
	// destination on any eligible rail.
	ErrNoEligibleDestination = errors.New("no eligible payout destination")

	// ErrUnknownMethod is returned for an unrecognized requested method.
	ErrUnknownMethod = errors.New("unknown settlement method")
)

// Select chooses the rail and destination for a settlement. Selection is
// deterministic: the same identity snapshot, method, and policy always yield
// the same result, so retries reproduce the original routing decision.
func Select(id *identity.Identity, requested Method, policy Policy) (identity.Rail, *identity.Destination, error) {
	if id.Status != identity.StatusVerified {
		return "", nil, fmt.Errorf("payee %s: %w", id.PayeeID, ErrIdentityNotVerified)
	}

	switch requested {
	case MethodCardNetwork, MethodStablecoin:
		r := identity.Rail(requested)
		if r == identity.RailStablecoin && !policy.AllowCrypto {
			return "", nil, fmt.Errorf("payee %s: stablecoin rail disabled by policy: %w", id.PayeeID, ErrNoEligibleDestination)
		}
		if dest := id.PrimaryDestination(r); dest != nil {
			return r, dest, nil
		}
		return "", nil, fmt.Errorf("payee %s has no verified %s destination: %w", id.PayeeID, r, ErrNoEligibleDestination)

	case MethodHybrid:
		for _, r := range policy.HybridOrder {
			if r == identity.RailStablecoin && !policy.AllowCrypto {
				continue
			}
			if dest := id.PrimaryDestination(r); dest != nil {
				return r, dest, nil
			}
		}
		return "", nil, fmt.Errorf("payee %s has no verified destination on any hybrid rail: %w", id.PayeeID, ErrNoEligibleDestination)

	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownMethod, requested)
	}
}
