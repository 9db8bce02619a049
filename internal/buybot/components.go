package buybot

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"near-buybot/internal/subscriptions"
	"near-buybot/internal/transport"
)

// componentErrorPlaceholder replaces a component whose rendering failed.
// One broken component never aborts the whole message.
const componentErrorPlaceholder = "Error"

const whaleAlertUsdThreshold = 10_000

// render builds the notification body from the subscriber's ordered display
// components, followed by configured links and the transaction link.
func (m *Module) render(ctx context.Context, cfg *subscriptions.SubscribedToken, notif notification) string {
	lines := []string{m.headerLine(ctx, notif)}

	for _, component := range cfg.Components {
		line, err := m.renderComponent(ctx, component, notif)
		if err != nil {
			m.log.Debug("Component rendering failed",
				"component", string(component), "token", notif.token.String(), "error", err)
			line = componentErrorPlaceholder
		}
		if line != "" {
			lines = append(lines, line)
		}
	}

	for _, link := range cfg.Links {
		lines = append(lines, fmt.Sprintf("[%s](%s)", transport.EscapeMarkdownV2(link.Text), link.URL))
	}
	lines = append(lines, fmt.Sprintf("[Tx](https://pikespeak.ai/transaction-viewer/%s)", notif.txID))

	return strings.Join(lines, "\n")
}

func (m *Module) headerLine(ctx context.Context, notif notification) string {
	symbol := notif.token.String()
	if meta, err := m.oracle.GetMetadata(ctx, notif.tokenID); err == nil && meta.Symbol != "" {
		symbol = meta.Symbol
	}
	var action string
	switch notif.polarity {
	case polarityBuy:
		action = "Buy"
	case polaritySell:
		action = "Sell"
	case polarityLpAdd:
		action = "Liquidity Added"
	case polarityLpRemove:
		action = "Liquidity Removed"
	}
	return fmt.Sprintf("*%s %s\\!*", transport.EscapeMarkdownV2(symbol), action)
}

func (m *Module) renderComponent(ctx context.Context, component subscriptions.Component, notif notification) (string, error) {
	switch component {
	case subscriptions.ComponentEmojis:
		return m.renderEmojis(ctx, notif), nil
	case subscriptions.ComponentTraderInfo:
		return fmt.Sprintf("Trader: `%s`", transport.EscapeCode(notif.trader)), nil
	case subscriptions.ComponentAmount:
		return m.renderAmount(ctx, notif)
	case subscriptions.ComponentPrice:
		return m.renderPrice(ctx, notif)
	case subscriptions.ComponentMarketCap:
		return m.renderMarketCap(ctx, notif)
	case subscriptions.ComponentContractAddress:
		return fmt.Sprintf("CA: `%s`", transport.EscapeCode(notif.token.String())), nil
	case subscriptions.ComponentWhaleAlert:
		return m.renderWhaleAlert(ctx, notif), nil
	}
	return "", fmt.Errorf("unknown display component %q", component)
}

// renderEmojis scales the emoji row by the trade's USD value: one symbol per
// $10, between 1 and 50. Unknown price renders a single symbol.
func (m *Module) renderEmojis(ctx context.Context, notif notification) string {
	emoji := "🟢"
	if notif.polarity == polaritySell || notif.polarity == polarityLpRemove {
		emoji = "🔴"
	}
	count := 1
	if usd, ok := m.usdValue(ctx, notif.tokenID, notif.amount.Abs()); ok {
		count = int(usd.Div(decimal.NewFromInt(10)).IntPart())
		if count < 1 {
			count = 1
		}
		if count > 50 {
			count = 50
		}
	}
	return strings.Repeat(emoji, count)
}

func (m *Module) renderAmount(ctx context.Context, notif notification) (string, error) {
	meta, err := m.oracle.GetMetadata(ctx, notif.tokenID)
	if err != nil {
		return "", err
	}
	amount := notif.amount.Abs().Shift(-meta.Decimals)
	line := fmt.Sprintf("Amount: %s %s",
		transport.EscapeMarkdownV2(formatDecimal(amount)),
		transport.EscapeMarkdownV2(meta.Symbol))
	if usd, ok := m.usdValue(ctx, notif.tokenID, notif.amount.Abs()); ok {
		line += fmt.Sprintf(" \\(\\$%s\\)", transport.EscapeMarkdownV2(formatDecimal(usd.Round(2))))
	}
	return line, nil
}

func (m *Module) renderPrice(ctx context.Context, notif notification) (string, error) {
	price, ok := m.oracle.GetPrice(ctx, notif.tokenID)
	if !ok {
		return "", fmt.Errorf("price unknown for %s", notif.tokenID)
	}
	return fmt.Sprintf("Price: \\$%s", transport.EscapeMarkdownV2(formatDecimal(decimal.NewFromFloat(price)))), nil
}

func (m *Module) renderMarketCap(ctx context.Context, notif notification) (string, error) {
	price, ok := m.oracle.GetPrice(ctx, notif.tokenID)
	if !ok {
		return "", fmt.Errorf("price unknown for %s", notif.tokenID)
	}
	meta, err := m.oracle.GetMetadata(ctx, notif.tokenID)
	if err != nil {
		return "", err
	}
	if meta.TotalSupply.IsZero() {
		return "", fmt.Errorf("total supply unknown for %s", notif.tokenID)
	}
	marketCap := meta.TotalSupply.Shift(-meta.Decimals).Mul(decimal.NewFromFloat(price))
	return fmt.Sprintf("Market Cap: \\$%s", transport.EscapeMarkdownV2(formatDecimal(marketCap.Round(0)))), nil
}

// renderWhaleAlert emits a line only when the USD value crosses the whale
// threshold; otherwise the component is omitted entirely.
func (m *Module) renderWhaleAlert(ctx context.Context, notif notification) string {
	usd, ok := m.usdValue(ctx, notif.tokenID, notif.amount.Abs())
	if !ok || usd.LessThan(decimal.NewFromInt(whaleAlertUsdThreshold)) {
		return ""
	}
	return fmt.Sprintf("🐋 Whale Alert: \\$%s", transport.EscapeMarkdownV2(formatDecimal(usd.Round(0))))
}

// formatDecimal trims trailing zeros and inserts thousands separators into
// the integer part.
func formatDecimal(d decimal.Decimal) string {
	s := d.String()
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	out := sb.String()
	if neg {
		out = "-" + out
	}
	if hasFrac {
		fracPart = strings.TrimRight(fracPart, "0")
		if fracPart != "" {
			out += "." + fracPart
		}
	}
	return out
}
