// Package buybot implements the trade-notification fan-out engine: a per-bot
// reverse index over token subscriptions, per-event matching with polarity
// and minimum-amount gates, and fire-and-forget notification dispatch.
package buybot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"near-buybot/internal/index"
	"near-buybot/internal/oracle"
	"near-buybot/internal/registry"
	"near-buybot/internal/subscriptions"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

type polarity string

const (
	polarityBuy      polarity = "buy"
	polaritySell     polarity = "sell"
	polarityLpAdd    polarity = "lp_add"
	polarityLpRemove polarity = "lp_remove"
)

// notification is one matched (destination, token, event) unit handed to the
// dispatcher.
type notification struct {
	token    types.Token
	tokenID  string // event-side contract id, used for oracle lookups
	amount   decimal.Decimal
	polarity polarity
	trader   string
	txID     string
}

type botEngine struct {
	bot     *registry.Bot
	store   subscriptions.Store
	index   *index.ReverseIndex
	service *subscriptions.Service
}

// StoreFactory builds the subscriber store handle for one bot identity.
type StoreFactory func(botID int64) subscriptions.Store

// Module is the buybot fan-out engine across all loaded bot identities.
type Module struct {
	oracle *oracle.Oracle
	log    *logger.Logger
	bots   map[int64]*botEngine

	// Aggregate channels get the "other" swap leg substituted for display.
	trendingChatID int64
	dumpersChatID  int64
}

// New builds one engine per bot in the registry and performs the initial
// index rebuild. A bot whose subscriber records cannot be read at startup is
// skipped, not fatal.
func New(ctx context.Context, reg *registry.Registry, storeFor StoreFactory, orc *oracle.Oracle, trendingChatID, dumpersChatID int64, log *logger.Logger) *Module {
	m := &Module{
		oracle:         orc,
		log:            log,
		bots:           make(map[int64]*botEngine),
		trendingChatID: trendingChatID,
		dumpersChatID:  dumpersChatID,
	}
	for _, bot := range reg.Bots() {
		store := storeFor(bot.ID())
		ix := index.New(store, log)
		if err := ix.Rebuild(ctx); err != nil {
			log.Error("Buybot config failed to load, bot will not receive trade notifications",
				"bot", bot.Name(), "error", err)
			continue
		}
		m.bots[bot.ID()] = &botEngine{
			bot:     bot,
			store:   store,
			index:   ix,
			service: subscriptions.NewService(store, ix, log),
		}
		log.Info("Buybot config loaded", "bot", bot.Name(), "tokens", ix.Tokens())
	}
	return m
}

// Service exposes the mutation endpoints for one bot, for the surrounding
// menu/config system. Returns nil for unknown bots.
func (m *Module) Service(botID int64) *subscriptions.Service {
	engine, ok := m.bots[botID]
	if !ok {
		return nil
	}
	return engine.service
}

func (m *Module) HandleEvent(ctx context.Context, event types.Event) error {
	switch e := event.(type) {
	case *types.TradeSwapEvent:
		m.onTradeSwap(ctx, e)
	case *types.LiquidityPoolEvent:
		m.onLiquidityPool(ctx, e)
	case *types.PreLaunchEvent:
		return m.onPreLaunch(ctx, e)
	}
	return nil
}

func (m *Module) onTradeSwap(ctx context.Context, e *types.TradeSwapEvent) {
	for tokenID, amount := range e.BalanceChanges {
		if amount.IsZero() {
			continue
		}
		token := types.FT(types.NormalizeTokenID(tokenID))
		pol := polarityBuy
		if amount.Sign() < 0 {
			pol = polaritySell
		}
		notif := notification{
			token:    token,
			tokenID:  tokenID,
			amount:   amount,
			polarity: pol,
			trader:   e.Trader,
			txID:     e.TransactionID,
		}
		for _, engine := range m.bots {
			for _, chatID := range engine.index.Lookup(token) {
				m.matchCandidate(ctx, engine, chatID, notif, e)
			}
		}
	}
}

func (m *Module) onLiquidityPool(ctx context.Context, e *types.LiquidityPoolEvent) {
	for _, leg := range e.Amounts {
		if leg.Amount.IsZero() {
			continue
		}
		token := types.FT(types.NormalizeTokenID(leg.TokenID))
		pol := polarityLpAdd
		if leg.Amount.Sign() < 0 {
			pol = polarityLpRemove
		}
		notif := notification{
			token:    token,
			tokenID:  leg.TokenID,
			amount:   leg.Amount,
			polarity: pol,
			trader:   e.Provider,
			txID:     e.TransactionID,
		}
		for _, engine := range m.bots {
			for _, chatID := range engine.index.Lookup(token) {
				m.matchCandidate(ctx, engine, chatID, notif, nil)
			}
		}
	}
}

func (m *Module) onPreLaunch(ctx context.Context, e *types.PreLaunchEvent) error {
	token := types.PreLaunch(e.AuctionID)

	if e.Kind == types.PreLaunchFinalize {
		if e.TokenID == "" {
			return fmt.Errorf("pre-launch finalize for auction %d carries no token id", e.AuctionID)
		}
		to := types.FT(types.NormalizeTokenID(e.TokenID))
		for _, engine := range m.bots {
			if err := engine.service.MigrateToken(ctx, token, to); err != nil {
				m.log.Error("Pre-launch migration failed",
					"bot", engine.bot.Name(), "auctionID", e.AuctionID, "error", err)
			}
		}
		return nil
	}

	if e.Amount.IsZero() {
		return nil
	}
	pol := polarityBuy
	amount := e.Amount
	if e.Kind == types.PreLaunchWithdraw {
		pol = polaritySell
		amount = amount.Neg()
	}
	notif := notification{
		token:    token,
		tokenID:  "wrap.near", // deposits are denominated in wrapped native
		amount:   amount,
		polarity: pol,
		trader:   e.Account,
		txID:     e.TransactionID,
	}
	for _, engine := range m.bots {
		for _, chatID := range engine.index.Lookup(token) {
			m.matchCandidate(ctx, engine, chatID, notif, nil)
		}
	}
	return nil
}

// matchCandidate re-validates one index candidate against the authoritative
// subscriber record and, when all gates pass, spawns an independent dispatch.
// The index is a coarse pre-filter: the record may have changed or vanished
// since the last rebuild, so nothing here trusts it beyond the lookup.
func (m *Module) matchCandidate(ctx context.Context, engine *botEngine, chatID int64, notif notification, swap *types.TradeSwapEvent) {
	sub, err := engine.store.Get(ctx, chatID)
	if err != nil {
		m.log.Warn("Subscriber read failed, skipping candidate",
			"chatID", chatID, "token", notif.token.String(), "error", err)
		return
	}
	if sub == nil || !sub.Enabled {
		return
	}
	cfg, ok := sub.Tokens[notif.token]
	if !ok {
		return
	}

	if !passesPolarityGate(&cfg, notif.polarity) {
		return
	}
	if !m.passesMinAmount(ctx, &cfg, notif.tokenID, notif.amount) {
		return
	}

	if swap != nil && m.isAggregateChannel(chatID) {
		if other, ok := aggregateLeg(swap, notif.tokenID); ok {
			notif.token = types.FT(types.NormalizeTokenID(other.TokenID))
			notif.tokenID = other.TokenID
			notif.amount = other.Amount
		}
	}

	go m.dispatch(engine.bot, chatID, cfg, notif)
}

// isAggregateChannel reports whether chatID is a configured trending or
// dumpers channel. An unset id (zero) never matches any chat.
func (m *Module) isAggregateChannel(chatID int64) bool {
	return (chatID == m.trendingChatID && m.trendingChatID != 0) ||
		(chatID == m.dumpersChatID && m.dumpersChatID != 0)
}

func passesPolarityGate(cfg *subscriptions.SubscribedToken, pol polarity) bool {
	switch pol {
	case polarityBuy:
		return cfg.Buys
	case polaritySell:
		return cfg.Sells
	case polarityLpAdd:
		return cfg.LpAdd
	case polarityLpRemove:
		return cfg.LpRemove
	}
	return false
}

// passesMinAmount applies the minimum-amount gate. Both denominations use
// the same at-or-above boundary: an event exactly at the threshold matches.
// A USD gate with no known price fails open: the event is not suppressed.
func (m *Module) passesMinAmount(ctx context.Context, cfg *subscriptions.SubscribedToken, tokenID string, amount decimal.Decimal) bool {
	if cfg.MinAmount == nil {
		return true
	}
	magnitude := amount.Abs()
	switch cfg.MinAmount.Currency {
	case subscriptions.CurrencyUsd:
		usd, ok := m.usdValue(ctx, tokenID, magnitude)
		if !ok {
			return true
		}
		return usd.GreaterThanOrEqual(cfg.MinAmount.Value)
	default:
		return magnitude.GreaterThanOrEqual(cfg.MinAmount.Value)
	}
}

// usdValue converts a raw-unit magnitude to USD. Unknown price or metadata
// means unknown value.
func (m *Module) usdValue(ctx context.Context, tokenID string, magnitude decimal.Decimal) (decimal.Decimal, bool) {
	price, ok := m.oracle.GetPrice(ctx, tokenID)
	if !ok {
		return decimal.Zero, false
	}
	meta, err := m.oracle.GetMetadata(ctx, tokenID)
	if err != nil {
		return decimal.Zero, false
	}
	return magnitude.Shift(-meta.Decimals).Mul(decimal.NewFromFloat(price)), true
}

// aggregateLeg finds the swap leg worth showing in an aggregate channel: the
// leg opposite to the matched token that is not a well-known base asset.
func aggregateLeg(e *types.TradeSwapEvent, matchedTokenID string) (types.TokenAmount, bool) {
	for tokenID, amount := range e.BalanceChanges {
		if tokenID == matchedTokenID || amount.IsZero() {
			continue
		}
		if baseAssets[types.NormalizeTokenID(tokenID)] {
			continue
		}
		return types.TokenAmount{TokenID: tokenID, Amount: amount}, true
	}
	return types.TokenAmount{}, false
}

// baseAssets are excluded from aggregate-channel substitution: showing "NEAR
// was bought" in a trending channel is noise.
var baseAssets = map[string]bool{
	types.NativeToken: true,
	"usdt.tether-token.near": true,
	"a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48.factory.bridge.near": true,
	"dac17f958d2ee523a2206206994597c13d831ec7.factory.bridge.near": true,
	"17208628f84f5d6ad33f0da3bbbeb27ffcb398eac501a31bd6ad2011e36133a1": true,
	"aurora": true,
}
