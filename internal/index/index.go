// Package index maintains the in-memory reverse index from token keys to
// candidate chats. The index is a derived cache over the subscriber store:
// it never encodes enabled flags or filter details, and it is rebuilt
// wholesale after any structural mutation, never patched incrementally.
package index

import (
	"context"
	"fmt"
	"sync"

	"near-buybot/internal/subscriptions"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

// SubscriberSource is the read side of the subscriber store.
type SubscriberSource interface {
	All(ctx context.Context) (map[int64]*subscriptions.Subscriber, error)
}

// ReverseIndex maps each subscribed token to the chats following it.
// Lookups take the read half of the lock and copy; Rebuild swaps the whole
// map under the write half, so readers observe either the fully-old or
// fully-new index, never a partial rebuild.
type ReverseIndex struct {
	source SubscriberSource
	log    *logger.Logger

	mu      sync.RWMutex
	byToken map[types.Token][]int64
}

func New(source SubscriberSource, log *logger.Logger) *ReverseIndex {
	return &ReverseIndex{
		source:  source,
		log:     log,
		byToken: make(map[types.Token][]int64),
	}
}

// Rebuild re-derives the index from every subscriber record. A store read
// failure aborts before the swap, leaving the last-good index in place.
func (ix *ReverseIndex) Rebuild(ctx context.Context) error {
	subscribers, err := ix.source.All(ctx)
	if err != nil {
		return fmt.Errorf("rebuild reverse index: %w", err)
	}

	fresh := make(map[types.Token][]int64)
	records := 0
	for chatID, sub := range subscribers {
		records++
		for token := range sub.Tokens {
			fresh[token] = append(fresh[token], chatID)
		}
	}

	ix.mu.Lock()
	ix.byToken = fresh
	ix.mu.Unlock()

	ix.log.Debug("Reverse index rebuilt", "records", records, "tokens", len(fresh))
	return nil
}

// Lookup returns a snapshot copy of the candidate chats for token. The copy
// is the caller's to keep; the live list is never exposed. Unknown tokens
// return an empty slice.
func (ix *ReverseIndex) Lookup(token types.Token) []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	live := ix.byToken[token]
	out := make([]int64, len(live))
	copy(out, live)
	return out
}

// Tokens returns the number of distinct keys currently indexed.
func (ix *ReverseIndex) Tokens() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byToken)
}
