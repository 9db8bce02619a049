// Package textlogs delivers plain-text contract log notifications. There is
// no reverse index here: every subscriber's filter list is scanned per
// event, with AND semantics across a filter's populated predicates.
package textlogs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"near-buybot/internal/registry"
	"near-buybot/internal/transport"
	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

// Filter matches text log events. AccountID is required; every other
// predicate is optional and unset predicates impose no constraint.
type Filter struct {
	AccountID      string  `json:"account_id"`
	PredecessorID  *string `json:"predecessor_id,omitempty"`
	ExactMatch     *string `json:"exact_match,omitempty"`
	TextStartsWith *string `json:"text_starts_with,omitempty"`
	TextEndsWith   *string `json:"text_ends_with,omitempty"`
	TextContains   *string `json:"text_contains,omitempty"`
	IsTestnet      *bool   `json:"is_testnet,omitempty"`
}

// Matches reports whether every populated predicate holds for the event.
func (f *Filter) Matches(event *types.LogTextEvent) bool {
	if f.AccountID != event.AccountID {
		return false
	}
	if f.IsTestnet != nil && *f.IsTestnet != event.Testnet {
		return false
	}
	if f.PredecessorID != nil && *f.PredecessorID != event.PredecessorID {
		return false
	}
	if f.ExactMatch != nil && *f.ExactMatch != event.LogText {
		return false
	}
	if f.TextStartsWith != nil && !strings.HasPrefix(event.LogText, *f.TextStartsWith) {
		return false
	}
	if f.TextEndsWith != nil && !strings.HasSuffix(event.LogText, *f.TextEndsWith) {
		return false
	}
	if f.TextContains != nil && !strings.Contains(event.LogText, *f.TextContains) {
		return false
	}
	return true
}

// Subscriber is one chat's text-log configuration for one bot.
type Subscriber struct {
	Enabled bool     `json:"enabled"`
	Filters []Filter `json:"filters"`
}

// Store is the durable text-log subscriber store for one bot identity.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Subscriber, error)
	Save(ctx context.Context, chatID int64, sub *Subscriber) error
	Remove(ctx context.Context, chatID int64) (*Subscriber, error)
	All(ctx context.Context) (map[int64]*Subscriber, error)
}

// StoreFactory builds the store handle for one bot identity.
type StoreFactory func(botID int64) Store

// botConfig keeps an in-memory copy of the bot's subscribers so the per-event
// scan never hits the database. Mutations write through the store and update
// the copy under the lock.
type botConfig struct {
	bot   *registry.Bot
	store Store

	mu          sync.RWMutex
	subscribers map[int64]*Subscriber
}

// Module is the text-log fan-out across all loaded bot identities.
type Module struct {
	log  *logger.Logger
	bots map[int64]*botConfig
}

// New loads each bot's subscribers into memory. A bot whose records cannot
// be read is skipped, not fatal.
func New(ctx context.Context, reg *registry.Registry, storeFor StoreFactory, log *logger.Logger) *Module {
	m := &Module{log: log, bots: make(map[int64]*botConfig)}
	for _, bot := range reg.Bots() {
		store := storeFor(bot.ID())
		subscribers, err := store.All(ctx)
		if err != nil {
			log.Error("Text log config failed to load, bot will not receive log notifications",
				"bot", bot.Name(), "error", err)
			continue
		}
		m.bots[bot.ID()] = &botConfig{bot: bot, store: store, subscribers: subscribers}
		log.Info("Text log config loaded", "bot", bot.Name(), "subscribers", len(subscribers))
	}
	return m
}

func (m *Module) HandleEvent(ctx context.Context, event types.Event) error {
	if e, ok := event.(*types.LogTextEvent); ok {
		m.onLogText(e)
	}
	return nil
}

func (m *Module) onLogText(event *types.LogTextEvent) {
	for _, cfg := range m.bots {
		cfg.mu.RLock()
		for chatID, sub := range cfg.subscribers {
			if !sub.Enabled {
				continue
			}
			for _, filter := range sub.Filters {
				if filter.Matches(event) {
					go m.dispatch(cfg.bot, chatID, event)
				}
			}
		}
		cfg.mu.RUnlock()
	}
}

// dispatch sends one log notification; failures are logged and dropped.
func (m *Module) dispatch(bot *registry.Bot, chatID int64, event *types.LogTextEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if bot.ReachedNotificationLimit(chatID) {
		return
	}
	message := fmt.Sprintf(
		"Text log from %s:\n```\n%s\n```\n[Tx](https://pikespeak.ai/transaction-viewer/%s/detailed)",
		transport.EscapeMarkdownV2(event.AccountID),
		transport.EscapeCode(event.LogText),
		event.TransactionID,
	)
	if err := bot.Send(ctx, chatID, message, nil, nil); err != nil {
		m.log.Warn("Failed to send text log message",
			"chatID", chatID, "accountID", event.AccountID, "error", err)
	}
}

// AddFilter appends a filter to a chat's list, creating the record on first
// use.
func (m *Module) AddFilter(ctx context.Context, botID, chatID int64, filter Filter) error {
	if filter.AccountID == "" {
		return fmt.Errorf("filter requires an account id")
	}
	cfg, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("unknown bot %d", botID)
	}
	return cfg.update(ctx, chatID, true, func(sub *Subscriber) error {
		sub.Filters = append(sub.Filters, filter)
		return nil
	})
}

// RemoveFilter deletes the filter at the given position.
func (m *Module) RemoveFilter(ctx context.Context, botID, chatID int64, filterIndex int) error {
	cfg, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("unknown bot %d", botID)
	}
	return cfg.update(ctx, chatID, false, func(sub *Subscriber) error {
		if filterIndex < 0 || filterIndex >= len(sub.Filters) {
			return fmt.Errorf("filter index %d out of bounds (length %d)", filterIndex, len(sub.Filters))
		}
		sub.Filters = append(sub.Filters[:filterIndex], sub.Filters[filterIndex+1:]...)
		return nil
	})
}

// UpdateFilter replaces the filter at the given position.
func (m *Module) UpdateFilter(ctx context.Context, botID, chatID int64, filterIndex int, filter Filter) error {
	cfg, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("unknown bot %d", botID)
	}
	return cfg.update(ctx, chatID, false, func(sub *Subscriber) error {
		if filterIndex < 0 || filterIndex >= len(sub.Filters) {
			return fmt.Errorf("filter index %d out of bounds (length %d)", filterIndex, len(sub.Filters))
		}
		sub.Filters[filterIndex] = filter
		return nil
	})
}

// SetEnabled flips a chat's text-log kill switch.
func (m *Module) SetEnabled(ctx context.Context, botID, chatID int64, enabled bool) error {
	cfg, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("unknown bot %d", botID)
	}
	return cfg.update(ctx, chatID, false, func(sub *Subscriber) error {
		sub.Enabled = enabled
		return nil
	})
}

// Filters returns a copy of a chat's filter list.
func (m *Module) Filters(botID, chatID int64) []Filter {
	cfg, ok := m.bots[botID]
	if !ok {
		return nil
	}
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	sub, ok := cfg.subscribers[chatID]
	if !ok {
		return nil
	}
	out := make([]Filter, len(sub.Filters))
	copy(out, sub.Filters)
	return out
}

func (c *botConfig) update(ctx context.Context, chatID int64, createIfMissing bool, mutate func(*Subscriber) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscribers[chatID]
	if !ok {
		if !createIfMissing {
			return fmt.Errorf("chat %d has no text log subscriptions", chatID)
		}
		sub = &Subscriber{Enabled: true}
	}
	if err := mutate(sub); err != nil {
		return err
	}
	if err := c.store.Save(ctx, chatID, sub); err != nil {
		return fmt.Errorf("save text log subscriber %d: %w", chatID, err)
	}
	c.subscribers[chatID] = sub
	return nil
}
