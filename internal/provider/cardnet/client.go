// Package cardnet submits payouts over the card network via the payment
// provider's connected-account transfer API.
package cardnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/soundlease/payrail/internal/money"
	"github.com/soundlease/payrail/internal/provider"
	"github.com/soundlease/payrail/pkg/retry"
)

// Client talks to the card-network provider's transfer-creation API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryCfg   retry.Config
	log        *slog.Logger
}

// NewClient creates a card-network transfer client.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retryCfg:   retry.DefaultConfig(),
		log:        log,
	}
}

type transferRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("card network returned status %d: %s", e.status, e.body)
}

func (e *httpStatusError) StatusCode() int { return e.status }

// SubmitTransfer implements provider.TransferClient. The idempotency key is
// forwarded in the Idempotency-Key header, so retried submissions after a
// transient failure resolve to the original provider transfer.
func (c *Client) SubmitTransfer(ctx context.Context, req provider.TransferRequest) (*provider.Submission, error) {
	payload, err := json.Marshal(transferRequest{
		Destination: req.Destination,
		Amount:      money.Format(req.Amount, req.Currency),
		Currency:    req.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	var out transferResponse
	err = retry.Do(ctx, c.retryCfg, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return &httpStatusError{status: resp.StatusCode, body: string(body)}
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && isRejection(statusErr.status) {
			return nil, fmt.Errorf("%w: %s", provider.ErrRejected, rejectionReason(statusErr.body))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}

	// Payouts to instant-eligible debit cards settle at submission time;
	// everything else confirms later via webhook.
	status := provider.StatusProcessing
	if out.Status == "paid" {
		status = provider.StatusCompleted
	}

	c.log.Info("cardnet: transfer submitted",
		"transfer_id", out.ID,
		"status", out.Status,
		"destination", req.Destination,
		"amount", money.Format(req.Amount, req.Currency),
		"currency", req.Currency,
	)

	return &provider.Submission{TransferID: out.ID, Status: status}, nil
}

// rejectionReason pulls the provider's error message out of a rejection
// body, falling back to the raw body when it is not the documented shape.
func rejectionReason(body string) string {
	var out transferResponse
	if err := json.Unmarshal([]byte(body), &out); err == nil && out.Error != nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return body
}

// isRejection reports whether status is a non-retryable 4xx response,
// meaning the provider understood the request and refused the
// destination/account.
func isRejection(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
