package textlogs

import (
	"context"
	"sync"
	"testing"
	"time"

	"near-buybot/internal/ratelimit"
	"near-buybot/internal/registry"
	"near-buybot/internal/transport"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func logEvent(account, predecessor, text string, testnet bool) *types.LogTextEvent {
	return &types.LogTextEvent{
		AccountID:          account,
		PredecessorID:      predecessor,
		LogText:            text,
		TransactionID:      "tx123",
		Testnet:            testnet,
		BlockTimestampNano: time.Now().UnixNano(),
	}
}

func TestFilterMatchesConjunction(t *testing.T) {
	event := logEvent("app.near", "caller.near", "order filled: 123", false)

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"account only", Filter{AccountID: "app.near"}, true},
		{"wrong account", Filter{AccountID: "other.near"}, false},
		{"predecessor match", Filter{AccountID: "app.near", PredecessorID: strPtr("caller.near")}, true},
		{"predecessor mismatch", Filter{AccountID: "app.near", PredecessorID: strPtr("other.near")}, false},
		{"exact match", Filter{AccountID: "app.near", ExactMatch: strPtr("order filled: 123")}, true},
		{"exact mismatch", Filter{AccountID: "app.near", ExactMatch: strPtr("order filled")}, false},
		{"starts with", Filter{AccountID: "app.near", TextStartsWith: strPtr("order")}, true},
		{"ends with", Filter{AccountID: "app.near", TextEndsWith: strPtr("123")}, true},
		{"contains", Filter{AccountID: "app.near", TextContains: strPtr("filled")}, true},
		{"contains miss", Filter{AccountID: "app.near", TextContains: strPtr("cancelled")}, false},
		{"mainnet wanted", Filter{AccountID: "app.near", IsTestnet: boolPtr(false)}, true},
		{"testnet wanted", Filter{AccountID: "app.near", IsTestnet: boolPtr(true)}, false},
		{
			"all predicates",
			Filter{
				AccountID:      "app.near",
				PredecessorID:  strPtr("caller.near"),
				TextStartsWith: strPtr("order"),
				TextEndsWith:   strPtr("123"),
				TextContains:   strPtr("filled"),
				IsTestnet:      boolPtr(false),
			},
			true,
		},
		{
			"one predicate fails the conjunction",
			Filter{
				AccountID:     "app.near",
				PredecessorID: strPtr("caller.near"),
				TextContains:  strPtr("cancelled"),
			},
			false,
		},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(event); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterUnsetPredicateImposesNothing(t *testing.T) {
	filter := Filter{AccountID: "app.near"}
	if !filter.Matches(logEvent("app.near", "anyone.near", "anything at all", false)) {
		t.Fatal("filter with only an account must match any log from it")
	}
	if !filter.Matches(logEvent("app.near", "anyone.near", "anything at all", true)) {
		t.Fatal("unset testnet predicate must match testnet events too")
	}
}

type sentLog struct {
	chatID int64
	text   string
}

type fakeSender struct {
	ch chan sentLog
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string, buttons [][]transport.Button, attachment *transport.Attachment) error {
	f.ch <- sentLog{chatID: chatID, text: text}
	return nil
}

type memStore struct {
	mu   sync.Mutex
	subs map[int64]*Subscriber
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[int64]*Subscriber)}
}

func (s *memStore) Get(ctx context.Context, chatID int64) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[chatID]
	if !ok {
		return nil, nil
	}
	return sub, nil
}

func (s *memStore) Save(ctx context.Context, chatID int64, sub *Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[chatID] = sub
	return nil
}

func (s *memStore) Remove(ctx context.Context, chatID int64) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[chatID]
	if !ok {
		return nil, nil
	}
	delete(s.subs, chatID)
	return sub, nil
}

func (s *memStore) All(ctx context.Context) (map[int64]*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*Subscriber, len(s.subs))
	for chatID, sub := range s.subs {
		out[chatID] = sub
	}
	return out, nil
}

func newTestModule(t *testing.T) (*Module, *memStore, *fakeSender) {
	t.Helper()
	log, err := logger.NewLogger(logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	sender := &fakeSender{ch: make(chan sentLog, 16)}
	reg := registry.New(nil, log)
	reg.AddBot(1, "testbot", sender, ratelimit.NewPerChat(1000))
	store := newMemStore()
	module := New(context.Background(), reg, func(botID int64) Store { return store }, log)
	return module, store, sender
}

func TestModuleDispatchesMatchingLogs(t *testing.T) {
	module, _, sender := newTestModule(t)
	ctx := context.Background()

	if err := module.AddFilter(ctx, 1, 10, Filter{AccountID: "app.near", TextContains: strPtr("filled")}); err != nil {
		t.Fatalf("add filter: %v", err)
	}

	if err := module.HandleEvent(ctx, logEvent("app.near", "caller.near", "order filled", false)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	select {
	case msg := <-sender.ch:
		if msg.chatID != 10 {
			t.Fatalf("wrong chat: %d", msg.chatID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a log notification")
	}

	if err := module.HandleEvent(ctx, logEvent("app.near", "caller.near", "order cancelled", false)); err != nil {
		t.Fatalf("handle non-matching: %v", err)
	}
	select {
	case msg := <-sender.ch:
		t.Fatalf("unexpected notification: %s", msg.text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestModuleDisabledSubscriberReceivesNothing(t *testing.T) {
	module, _, sender := newTestModule(t)
	ctx := context.Background()

	if err := module.AddFilter(ctx, 1, 10, Filter{AccountID: "app.near"}); err != nil {
		t.Fatalf("add filter: %v", err)
	}
	if err := module.SetEnabled(ctx, 1, 10, false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if err := module.HandleEvent(ctx, logEvent("app.near", "caller.near", "anything", false)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	select {
	case msg := <-sender.ch:
		t.Fatalf("disabled subscriber got a message: %s", msg.text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFilterMutations(t *testing.T) {
	module, store, _ := newTestModule(t)
	ctx := context.Background()

	if err := module.AddFilter(ctx, 1, 10, Filter{}); err == nil {
		t.Fatal("filter without an account id must be rejected")
	}
	if err := module.AddFilter(ctx, 1, 10, Filter{AccountID: "a.near"}); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := module.AddFilter(ctx, 1, 10, Filter{AccountID: "b.near"}); err != nil {
		t.Fatalf("add second: %v", err)
	}
	if err := module.UpdateFilter(ctx, 1, 10, 1, Filter{AccountID: "c.near"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := module.UpdateFilter(ctx, 1, 10, 5, Filter{AccountID: "x.near"}); err == nil {
		t.Fatal("out-of-bounds update must fail")
	}
	if err := module.RemoveFilter(ctx, 1, 10, 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := module.RemoveFilter(ctx, 1, 10, 5); err == nil {
		t.Fatal("out-of-bounds remove must fail")
	}

	got := module.Filters(1, 10)
	if len(got) != 1 || got[0].AccountID != "c.near" {
		t.Fatalf("unexpected filters: %#v", got)
	}
	// Mutations must have written through to the store.
	stored, _ := store.Get(ctx, 10)
	if stored == nil || len(stored.Filters) != 1 || stored.Filters[0].AccountID != "c.near" {
		t.Fatalf("store out of sync: %#v", stored)
	}

	if err := module.AddFilter(ctx, 99, 10, Filter{AccountID: "a.near"}); err == nil {
		t.Fatal("unknown bot must be rejected")
	}
}
