// Package config loads service configuration from the environment and owns
// the postgres pool and schema migrations.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/soundlease/payrail/internal/identity"
	"github.com/soundlease/payrail/internal/rail"
)

// Config holds the runtime configuration for the settlement service.
type Config struct {
	// WebhookSecret signs inbound provider callbacks.
	WebhookSecret string

	// IdentityStoreURL and IdentityStoreAPIKey locate the external payout
	// identity store.
	IdentityStoreURL    string
	IdentityStoreAPIKey string

	// CardNetworkURL and CardNetworkAPIKey locate the card-network
	// provider's transfer API.
	CardNetworkURL    string
	CardNetworkAPIKey string

	// StablecoinProviderURL, StablecoinAPIKey, and SolanaRPCURL locate the
	// stablecoin treasury provider and the RPC endpoint used to confirm
	// its transfers.
	StablecoinProviderURL string
	StablecoinAPIKey      string
	SolanaRPCURL          string

	// DefaultPayeeRate is the royalty rate applied when the settlement
	// request does not carry one.
	DefaultPayeeRate decimal.Decimal

	// Policy configures hybrid rail routing.
	Policy rail.Policy

	// SlackToken and SlackChannel configure failure notifications. Empty
	// token disables them.
	SlackToken   string
	SlackChannel string

	// SentryDSN enables error reporting when set.
	SentryDSN string
}

const defaultSolanaRPCURL = "https://api.mainnet-beta.solana.com"

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadFromEnv reads configuration from PAYRAIL_* environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		WebhookSecret:         os.Getenv("PAYRAIL_WEBHOOK_SECRET"),
		IdentityStoreURL:      os.Getenv("PAYRAIL_IDENTITY_STORE_URL"),
		IdentityStoreAPIKey:   os.Getenv("PAYRAIL_IDENTITY_STORE_API_KEY"),
		CardNetworkURL:        os.Getenv("PAYRAIL_CARD_NETWORK_URL"),
		CardNetworkAPIKey:     os.Getenv("PAYRAIL_CARD_NETWORK_API_KEY"),
		StablecoinProviderURL: os.Getenv("PAYRAIL_STABLECOIN_PROVIDER_URL"),
		StablecoinAPIKey:      os.Getenv("PAYRAIL_STABLECOIN_API_KEY"),
		SolanaRPCURL:          getEnv("SOLANA_RPC_URL", defaultSolanaRPCURL),
		SlackToken:            os.Getenv("PAYRAIL_SLACK_TOKEN"),
		SlackChannel:          getEnv("PAYRAIL_SLACK_CHANNEL", "#royalty-settlements"),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("PAYRAIL_WEBHOOK_SECRET is required")
	}

	rate, err := decimal.NewFromString(getEnv("PAYRAIL_DEFAULT_PAYEE_RATE", "0.70"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYRAIL_DEFAULT_PAYEE_RATE: %w", err)
	}
	cfg.DefaultPayeeRate = rate

	cfg.Policy, err = loadPolicy()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPolicy reads the hybrid routing policy from the environment.
func loadPolicy() (rail.Policy, error) {
	policy := rail.DefaultPolicy()

	if v := os.Getenv("PAYRAIL_ALLOW_CRYPTO"); v != "" {
		policy.AllowCrypto = v == "true" || v == "1"
	}

	order := getEnv("PAYRAIL_HYBRID_ORDER", "")
	if order == "" {
		return policy, nil
	}

	var rails []identity.Rail
	for _, part := range strings.Split(order, ",") {
		r := identity.Rail(strings.TrimSpace(part))
		if !r.Valid() {
			return rail.Policy{}, fmt.Errorf("invalid PAYRAIL_HYBRID_ORDER rail %q", part)
		}
		rails = append(rails, r)
	}
	policy.HybridOrder = rails
	return policy, nil
}
