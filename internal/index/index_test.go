package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"near-buybot/internal/subscriptions"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

type memSource struct {
	mu   sync.Mutex
	subs map[int64]*subscriptions.Subscriber
	err  error
}

func (s *memSource) All(ctx context.Context) (map[int64]*subscriptions.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]*subscriptions.Subscriber, len(s.subs))
	for chatID, sub := range s.subs {
		out[chatID] = sub
	}
	return out, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func subscriberWith(tokens ...types.Token) *subscriptions.Subscriber {
	sub := subscriptions.NewSubscriber()
	for _, tok := range tokens {
		sub.Tokens[tok] = subscriptions.DefaultSubscribedToken()
	}
	return sub
}

func TestRebuildCompleteness(t *testing.T) {
	doge := types.FT("doge.near")
	pepe := types.FT("pepe.near")
	source := &memSource{subs: map[int64]*subscriptions.Subscriber{
		1: subscriberWith(doge, pepe),
		2: subscriberWith(doge),
		3: subscriberWith(),
	}}
	ix := New(source, testLogger(t))
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	gotDoge := ix.Lookup(doge)
	if len(gotDoge) != 2 {
		t.Fatalf("doge candidates: got %v", gotDoge)
	}
	gotPepe := ix.Lookup(pepe)
	if len(gotPepe) != 1 || gotPepe[0] != 1 {
		t.Fatalf("pepe candidates: got %v", gotPepe)
	}
	if got := ix.Lookup(types.FT("unknown.near")); len(got) != 0 {
		t.Fatalf("unknown token must have no candidates, got %v", got)
	}
	if ix.Tokens() != 2 {
		t.Fatalf("expected 2 indexed tokens, got %d", ix.Tokens())
	}
}

func TestRebuildDropsStaleEntries(t *testing.T) {
	doge := types.FT("doge.near")
	source := &memSource{subs: map[int64]*subscriptions.Subscriber{
		1: subscriberWith(doge),
	}}
	ix := New(source, testLogger(t))
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	source.mu.Lock()
	delete(source.subs, 1)
	source.mu.Unlock()
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if got := ix.Lookup(doge); len(got) != 0 {
		t.Fatalf("stale candidate survived rebuild: %v", got)
	}
}

func TestRebuildFailureKeepsOldIndex(t *testing.T) {
	doge := types.FT("doge.near")
	source := &memSource{subs: map[int64]*subscriptions.Subscriber{
		1: subscriberWith(doge),
	}}
	ix := New(source, testLogger(t))
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	source.mu.Lock()
	source.err = errors.New("store down")
	source.mu.Unlock()
	if err := ix.Rebuild(context.Background()); err == nil {
		t.Fatal("expected rebuild error")
	}
	if got := ix.Lookup(doge); len(got) != 1 || got[0] != 1 {
		t.Fatalf("failed rebuild must leave the old index intact, got %v", got)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	doge := types.FT("doge.near")
	source := &memSource{subs: map[int64]*subscriptions.Subscriber{
		1: subscriberWith(doge),
		2: subscriberWith(doge),
	}}
	ix := New(source, testLogger(t))
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	got := ix.Lookup(doge)
	for i := range got {
		got[i] = -1
	}
	again := ix.Lookup(doge)
	for _, chatID := range again {
		if chatID == -1 {
			t.Fatal("lookup exposed the live candidate list")
		}
	}
}

func TestConcurrentLookupDuringRebuild(t *testing.T) {
	doge := types.FT("doge.near")
	source := &memSource{subs: map[int64]*subscriptions.Subscriber{
		1: subscriberWith(doge),
	}}
	ix := New(source, testLogger(t))
	if err := ix.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if got := ix.Lookup(doge); len(got) != 1 {
					t.Errorf("lookup observed partial index: %v", got)
					return
				}
			}
		}
	}()
	for i := 0; i < 100; i++ {
		if err := ix.Rebuild(context.Background()); err != nil {
			t.Fatalf("rebuild %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}
