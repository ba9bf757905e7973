package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/soundlease/payrail/pkg/retry"
)

// Client is a Directory backed by the external payout identity store's
// HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryCfg   retry.Config
	log        *slog.Logger
}

// NewClient creates an identity store client.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retryCfg:   retry.DefaultConfig(),
		log:        log,
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("identity store returned status %d: %s", e.status, e.body)
}

func (e *httpStatusError) StatusCode() int { return e.status }

// Lookup implements Directory. Transient identity-store failures are retried
// with backoff; a 404 maps to ErrNotFound.
func (c *Client) Lookup(ctx context.Context, payeeID string) (*Identity, error) {
	endpoint := fmt.Sprintf("%s/v1/identities/%s", c.baseURL, url.PathEscape(payeeID))

	var identity Identity
	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{status: resp.StatusCode, body: string(body)}
		}
		return json.Unmarshal(body, &identity)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up payout identity %s: %w", payeeID, err)
	}

	c.log.Debug("identity: resolved payout identity",
		"payee_id", payeeID,
		"status", identity.Status,
		"destinations", len(identity.Destinations),
	)
	return &identity, nil
}
