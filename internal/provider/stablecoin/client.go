// Package stablecoin submits payouts as on-chain USDC transfers through a
// custodial treasury provider and observes confirmation directly on Solana.
package stablecoin

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

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/soundlease/payrail/internal/money"
	"github.com/soundlease/payrail/internal/provider"
	"github.com/soundlease/payrail/pkg/retry"
)

// Client submits transfers through the treasury provider's broadcast API and
// confirms them against the Solana RPC endpoint. The provider returns the
// transaction signature as the transfer id, so confirmation needs no further
// provider involvement.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rpcClient  *rpc.Client
	retryCfg   retry.Config
	log        *slog.Logger
}

// NewClient creates a stablecoin transfer client. rpcURL is the Solana RPC
// endpoint used for confirmation polling.
func NewClient(baseURL, apiKey, rpcURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		rpcClient:  rpc.New(rpcURL),
		retryCfg:   retry.DefaultConfig(),
		log:        log,
	}
}

type payoutRequest struct {
	Wallet         string `json:"wallet"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

type payoutResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("treasury provider returned status %d: %s", e.status, e.body)
}

func (e *httpStatusError) StatusCode() int { return e.status }

// SubmitTransfer implements provider.TransferClient. The destination must be
// a valid Solana address; invalid addresses are rejected before any provider
// call is made.
func (c *Client) SubmitTransfer(ctx context.Context, req provider.TransferRequest) (*provider.Submission, error) {
	if _, err := solana.PublicKeyFromBase58(req.Destination); err != nil {
		return nil, fmt.Errorf("%w: invalid wallet address %q: %v", provider.ErrRejected, req.Destination, err)
	}

	payload, err := json.Marshal(payoutRequest{
		Wallet:         req.Destination,
		Amount:         money.Format(req.Amount, req.Currency),
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	var out payoutResponse
	err = retry.Do(ctx, c.retryCfg, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(payload))
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
		if errors.As(err, &statusErr) && statusErr.status >= 400 && statusErr.status < 500 && statusErr.status != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", provider.ErrRejected, statusErr.body)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}

	c.log.Info("stablecoin: transfer broadcast",
		"signature", out.Signature,
		"wallet", req.Destination,
		"amount", money.Format(req.Amount, req.Currency),
		"currency", req.Currency,
	)

	return &provider.Submission{TransferID: out.Signature, Status: provider.StatusProcessing}, nil
}

// Confirmed implements provider.Confirmer by checking the transaction's
// signature status on chain. A transaction is considered confirmed once the
// cluster reports it at confirmed or finalized commitment with no error.
func (c *Client) Confirmed(ctx context.Context, transferID string) (bool, error) {
	sig, err := solana.SignatureFromBase58(transferID)
	if err != nil {
		return false, fmt.Errorf("invalid transaction signature %q: %w", transferID, err)
	}

	out, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, fmt.Errorf("failed to fetch signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return false, fmt.Errorf("%w: transaction failed on chain: %v", provider.ErrRejected, status.Err)
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}
