package buybot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"near-buybot/internal/registry"
	"near-buybot/internal/subscriptions"
	"near-buybot/internal/transport"
)

const dispatchTimeout = 30 * time.Second

// dispatch formats and sends exactly one notification. It runs as its own
// goroutine: a slow or failing delivery never blocks sibling candidates or
// the event loop. Failures are logged and dropped; there is no retry and no
// backpressure signal to the matcher.
func (m *Module) dispatch(bot *registry.Bot, chatID int64, cfg subscriptions.SubscribedToken, notif notification) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	requestID := uuid.NewString()

	if bot.ReachedNotificationLimit(chatID) {
		m.log.Debug("Notification suppressed by rate limit",
			"chatID", chatID, "token", notif.token.String(), "requestID", requestID)
		return
	}

	attachment := m.selectAttachment(ctx, &cfg, notif)
	text := m.render(ctx, &cfg, notif)
	buttons := buttonRows(cfg.Buttons)

	if err := bot.Send(ctx, chatID, text, buttons, attachment); err != nil {
		m.log.Warn("Failed to send buybot notification",
			"chatID", chatID, "token", notif.token.String(),
			"requestID", requestID, "error", err)
		return
	}
	m.log.Debug("Buybot notification sent",
		"chatID", chatID, "token", notif.token.String(), "requestID", requestID)
}

// selectAttachment resolves the threshold fall-through in the configured
// attachment currency. When the currency is USD and no price is known, only
// a zero-threshold rule can apply.
func (m *Module) selectAttachment(ctx context.Context, cfg *subscriptions.SubscribedToken, notif notification) *transport.Attachment {
	if len(cfg.Attachments) == 0 {
		return nil
	}
	magnitude := notif.amount.Abs()
	if cfg.AttachmentCurrency == subscriptions.CurrencyUsd {
		if usd, ok := m.usdValue(ctx, notif.tokenID, magnitude); ok {
			magnitude = usd
		} else {
			magnitude = decimal.Zero
		}
	}
	media, ok := cfg.SelectAttachment(magnitude)
	if !ok || media.Kind == subscriptions.MediaNone {
		return nil
	}
	kind := transport.AttachmentPhoto
	if media.Kind == subscriptions.MediaAnimation {
		kind = transport.AttachmentAnimation
	}
	return &transport.Attachment{Kind: kind, FileID: media.FileID}
}

func buttonRows(buttons []subscriptions.Link) [][]transport.Button {
	var rows [][]transport.Button
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		var row []transport.Button
		for _, b := range buttons[i:end] {
			row = append(row, transport.Button{Text: b.Text, URL: b.URL})
		}
		rows = append(rows, row)
	}
	return rows
}
