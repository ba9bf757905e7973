// Package notify dispatches payee-visible notices about settlement outcomes.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/money"
)

// Notifier delivers a notice when a settlement reaches a terminal failure.
// Notification delivery is best-effort; failures are logged, never allowed
// to block reconciliation.
type Notifier interface {
	SettlementFailed(ctx context.Context, entry *ledger.Entry, reason string) error
}

// Noop discards all notifications.
type Noop struct{}

// SettlementFailed implements Notifier.
func (Noop) SettlementFailed(context.Context, *ledger.Entry, string) error { return nil }

// SlackNotifier posts settlement failures to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	log     *slog.Logger
}

// NewSlackNotifier creates a notifier posting to the given channel.
func NewSlackNotifier(token, channel string, log *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
		log:     log,
	}
}

// SettlementFailed implements Notifier.
func (n *SlackNotifier) SettlementFailed(ctx context.Context, entry *ledger.Entry, reason string) error {
	if reason == "" {
		reason = "no reason given by provider"
	}
	text := fmt.Sprintf(
		":warning: Royalty settlement failed\n*Payee:* %s\n*Sale:* %s\n*Amount:* %s %s\n*Rail:* %s\n*Reason:* %s\nNo automatic retry is made; the payee must resolve the payout destination and a new settlement must be created.",
		entry.PayeeID,
		entry.SaleID,
		money.Format(entry.Amount, entry.Currency),
		entry.Currency,
		entry.Rail,
		reason,
	)

	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("failed to post settlement failure notice: %w", err)
	}

	n.log.Info("notify: settlement failure notice sent",
		"channel", n.channel,
		"payee_id", entry.PayeeID,
		"ledger_entry_id", entry.ID,
	)
	return nil
}
