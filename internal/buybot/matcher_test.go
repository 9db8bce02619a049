package buybot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"near-buybot/internal/oracle"
	"near-buybot/internal/ratelimit"
	"near-buybot/internal/registry"
	"near-buybot/internal/subscriptions"
	"near-buybot/internal/transport"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

type sentMessage struct {
	chatID     int64
	text       string
	buttons    [][]transport.Button
	attachment *transport.Attachment
}

type fakeSender struct {
	ch chan sentMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan sentMessage, 64)}
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string, buttons [][]transport.Button, attachment *transport.Attachment) error {
	f.ch <- sentMessage{chatID: chatID, text: text, buttons: buttons, attachment: attachment}
	return nil
}

func (f *fakeSender) expectSend(t *testing.T) sentMessage {
	t.Helper()
	select {
	case msg := <-f.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification, got none")
		return sentMessage{}
	}
}

func (f *fakeSender) expectNoSend(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.ch:
		t.Fatalf("unexpected notification to chat %d: %s", msg.chatID, msg.text)
	case <-time.After(200 * time.Millisecond):
	}
}

type memStore struct {
	mu   sync.Mutex
	subs map[int64]*subscriptions.Subscriber
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[int64]*subscriptions.Subscriber)}
}

func (s *memStore) Get(ctx context.Context, chatID int64) (*subscriptions.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[chatID]
	if !ok {
		return nil, nil
	}
	return sub, nil
}

func (s *memStore) Save(ctx context.Context, chatID int64, sub *subscriptions.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[chatID] = sub
	return nil
}

func (s *memStore) Remove(ctx context.Context, chatID int64) (*subscriptions.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[chatID]
	if !ok {
		return nil, nil
	}
	delete(s.subs, chatID)
	return sub, nil
}

func (s *memStore) All(ctx context.Context) (map[int64]*subscriptions.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*subscriptions.Subscriber, len(s.subs))
	for chatID, sub := range s.subs {
		out[chatID] = sub
	}
	return out, nil
}

type fixture struct {
	module *Module
	store  *memStore
	sender *fakeSender
	oracle *oracle.Oracle
}

// newFixture wires one bot with an in-memory store and an oracle whose HTTP
// backend always fails, so only seeded prices resolve.
func newFixture(t *testing.T, trendingChatID, dumpersChatID int64) *fixture {
	t.Helper()
	log, err := logger.NewLogger(logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	orc := oracle.New(server.URL, log)

	sender := newFakeSender()
	reg := registry.New(nil, log)
	reg.AddBot(1, "testbot", sender, ratelimit.NewPerChat(1000))

	store := newMemStore()
	module := New(context.Background(), reg,
		func(botID int64) subscriptions.Store { return store },
		orc, trendingChatID, dumpersChatID, log)

	return &fixture{module: module, store: store, sender: sender, oracle: orc}
}

func (f *fixture) subscribe(t *testing.T, chatID int64, token types.Token, mutate func(*subscriptions.SubscribedToken)) {
	t.Helper()
	svc := f.module.Service(1)
	if svc == nil {
		t.Fatal("bot engine missing")
	}
	if err := svc.AddToken(context.Background(), chatID, token); err != nil {
		t.Fatalf("add token: %v", err)
	}
	if mutate != nil {
		sub, _ := f.store.Get(context.Background(), chatID)
		cfg := sub.Tokens[token]
		mutate(&cfg)
		sub.Tokens[token] = cfg
		if err := f.store.Save(context.Background(), chatID, sub); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
}

func swapEvent(trader string, changes map[string]decimal.Decimal) *types.TradeSwapEvent {
	return &types.TradeSwapEvent{
		Trader:             trader,
		BalanceChanges:     changes,
		TransactionID:      "tx123",
		BlockTimestampNano: time.Now().UnixNano(),
	}
}

func TestBuyNotificationDelivered(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.subscribe(t, 10, types.FT("doge.near"), nil)

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	msg := f.sender.expectSend(t)
	if msg.chatID != 10 {
		t.Fatalf("wrong chat: %d", msg.chatID)
	}
}

func TestPolarityGates(t *testing.T) {
	f := newFixture(t, 0, 0)
	// Buys off, sells on.
	f.subscribe(t, 10, types.FT("doge.near"), func(cfg *subscriptions.SubscribedToken) {
		cfg.Buys = false
		cfg.Sells = true
	})

	buy := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), buy); err != nil {
		t.Fatalf("handle buy: %v", err)
	}
	f.sender.expectNoSend(t)

	sell := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(-1000),
	})
	if err := f.module.HandleEvent(context.Background(), sell); err != nil {
		t.Fatalf("handle sell: %v", err)
	}
	f.sender.expectSend(t)
}

func TestDisabledSubscriberSkipped(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.subscribe(t, 10, types.FT("doge.near"), nil)

	// Disable after the index pointed at the chat; the authoritative re-read
	// must still suppress delivery.
	sub, _ := f.store.Get(context.Background(), 10)
	sub.Enabled = false
	_ = f.store.Save(context.Background(), 10, sub)

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	f.sender.expectNoSend(t)
}

func TestMinAmountTokenBoundary(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.subscribe(t, 10, types.FT("doge.near"), func(cfg *subscriptions.SubscribedToken) {
		cfg.MinAmount = &subscriptions.MinAmount{
			Currency: subscriptions.CurrencyToken,
			Value:    decimal.NewFromInt(100),
		}
	})

	below := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(99),
	})
	if err := f.module.HandleEvent(context.Background(), below); err != nil {
		t.Fatalf("handle below: %v", err)
	}
	f.sender.expectNoSend(t)

	exact := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(-100),
	})
	if err := f.module.HandleEvent(context.Background(), exact); err != nil {
		t.Fatalf("handle exact: %v", err)
	}
	f.sender.expectSend(t)
}

func TestMinAmountUsdBoundary(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.oracle.SetCached("doge.near", 0.02, &oracle.Metadata{
		Symbol:   "DOGE",
		Decimals: 0,
	})
	f.subscribe(t, 10, types.FT("doge.near"), func(cfg *subscriptions.SubscribedToken) {
		cfg.MinAmount = &subscriptions.MinAmount{
			Currency: subscriptions.CurrencyUsd,
			Value:    decimal.NewFromInt(10),
		}
	})

	// 499 tokens at $0.02 is $9.98, under the gate.
	below := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(499),
	})
	if err := f.module.HandleEvent(context.Background(), below); err != nil {
		t.Fatalf("handle below: %v", err)
	}
	f.sender.expectNoSend(t)

	// 500 tokens is exactly $10.00 and must pass.
	exact := swapEvent("alice.near", map[string]decimal.Decimal{
		"doge.near": decimal.NewFromInt(500),
	})
	if err := f.module.HandleEvent(context.Background(), exact); err != nil {
		t.Fatalf("handle exact: %v", err)
	}
	f.sender.expectSend(t)
}

func TestMinAmountUsdFailsOpenWithoutPrice(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.subscribe(t, 10, types.FT("nopriced.near"), func(cfg *subscriptions.SubscribedToken) {
		cfg.MinAmount = &subscriptions.MinAmount{
			Currency: subscriptions.CurrencyUsd,
			Value:    decimal.NewFromInt(1_000_000),
		}
	})

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"nopriced.near": decimal.NewFromInt(1),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	f.sender.expectSend(t)
}

func TestWrappedNativeNormalization(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.subscribe(t, 10, types.FT(types.NativeToken), nil)

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"wrap.near": decimal.NewFromInt(5),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	f.sender.expectSend(t)
}

func TestLiquidityPoolLegs(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.subscribe(t, 10, types.FT("doge.near"), func(cfg *subscriptions.SubscribedToken) {
		cfg.Buys = false
		cfg.Sells = false
		cfg.LpAdd = true
	})

	event := &types.LiquidityPoolEvent{
		Pool:     "pool-7",
		Provider: "alice.near",
		Amounts: [2]types.TokenAmount{
			{TokenID: "doge.near", Amount: decimal.NewFromInt(1000)},
			{TokenID: "wrap.near", Amount: decimal.NewFromInt(5)},
		},
		TransactionID:      "tx456",
		BlockTimestampNano: time.Now().UnixNano(),
	}
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	msg := f.sender.expectSend(t)
	if msg.chatID != 10 {
		t.Fatalf("wrong chat: %d", msg.chatID)
	}
	f.sender.expectNoSend(t)

	// Negative legs are removals and the LpAdd-only subscriber ignores them.
	remove := &types.LiquidityPoolEvent{
		Pool:     "pool-7",
		Provider: "alice.near",
		Amounts: [2]types.TokenAmount{
			{TokenID: "doge.near", Amount: decimal.NewFromInt(-1000)},
			{TokenID: "wrap.near", Amount: decimal.NewFromInt(-5)},
		},
		TransactionID:      "tx457",
		BlockTimestampNano: time.Now().UnixNano(),
	}
	if err := f.module.HandleEvent(context.Background(), remove); err != nil {
		t.Fatalf("handle remove: %v", err)
	}
	f.sender.expectNoSend(t)
}

func TestPreLaunchDepositAndMigration(t *testing.T) {
	f := newFixture(t, 0, 0)
	auction := types.PreLaunch(42)
	f.subscribe(t, 10, auction, nil)

	deposit := &types.PreLaunchEvent{
		Kind:               types.PreLaunchDeposit,
		AuctionID:          42,
		Account:            "alice.near",
		Amount:             decimal.NewFromInt(7),
		TransactionID:      "tx789",
		BlockTimestampNano: time.Now().UnixNano(),
	}
	if err := f.module.HandleEvent(context.Background(), deposit); err != nil {
		t.Fatalf("handle deposit: %v", err)
	}
	f.sender.expectSend(t)

	finalize := &types.PreLaunchEvent{
		Kind:               types.PreLaunchFinalize,
		AuctionID:          42,
		TokenID:            "new-token.near",
		TransactionID:      "tx790",
		BlockTimestampNano: time.Now().UnixNano(),
	}
	if err := f.module.HandleEvent(context.Background(), finalize); err != nil {
		t.Fatalf("handle finalize: %v", err)
	}

	// The subscription now follows the deployed contract.
	swap := swapEvent("bob.near", map[string]decimal.Decimal{
		"new-token.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), swap); err != nil {
		t.Fatalf("handle swap: %v", err)
	}
	f.sender.expectSend(t)

	sub, _ := f.store.Get(context.Background(), 10)
	if _, stale := sub.Tokens[auction]; stale {
		t.Fatal("auction key survived finalize")
	}
}

func TestPreLaunchFinalizeWithoutTokenFails(t *testing.T) {
	f := newFixture(t, 0, 0)
	finalize := &types.PreLaunchEvent{
		Kind:               types.PreLaunchFinalize,
		AuctionID:          42,
		BlockTimestampNano: time.Now().UnixNano(),
	}
	if err := f.module.HandleEvent(context.Background(), finalize); err == nil {
		t.Fatal("finalize without a token id must fail")
	}
}

func TestTrendingChannelLegSubstitution(t *testing.T) {
	const trendingChat = 99
	f := newFixture(t, trendingChat, 0)
	// The trending channel follows the native token to see every swap
	// against it.
	f.subscribe(t, trendingChat, types.FT(types.NativeToken), nil)

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"wrap.near": decimal.NewFromInt(-5),
		"doge.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	msg := f.sender.expectSend(t)
	if !containsEscaped(msg.text, "doge.near") {
		t.Fatalf("trending message should show the non-base leg, got: %s", msg.text)
	}
}

func TestDumpersChannelSubstitutionWithoutTrending(t *testing.T) {
	const dumpersChat = 77
	f := newFixture(t, 0, dumpersChat)
	f.subscribe(t, dumpersChat, types.FT(types.NativeToken), nil)

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"wrap.near": decimal.NewFromInt(-5),
		"doge.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	msg := f.sender.expectSend(t)
	if !containsEscaped(msg.text, "doge.near") {
		t.Fatalf("dumpers message should show the non-base leg, got: %s", msg.text)
	}
}

func TestRegularChatGetsNoSubstitution(t *testing.T) {
	f := newFixture(t, 99, 0)
	f.subscribe(t, 10, types.FT(types.NativeToken), nil)

	event := swapEvent("alice.near", map[string]decimal.Decimal{
		"wrap.near": decimal.NewFromInt(-5),
		"doge.near": decimal.NewFromInt(1000),
	})
	if err := f.module.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	msg := f.sender.expectSend(t)
	if containsEscaped(msg.text, "doge.near") {
		t.Fatalf("regular chat must keep its matched token, got: %s", msg.text)
	}
}

// containsEscaped matches want in either raw or MarkdownV2-escaped form.
func containsEscaped(text, want string) bool {
	return strings.Contains(text, want) || strings.Contains(text, transport.EscapeMarkdownV2(want))
}
