package subscriptions

import (
	"context"
	"fmt"

	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

// Store is the durable per-chat subscription store for one bot identity.
// Get and Remove return (nil, nil) when no record exists.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Subscriber, error)
	Save(ctx context.Context, chatID int64, sub *Subscriber) error
	Remove(ctx context.Context, chatID int64) (*Subscriber, error)
	All(ctx context.Context) (map[int64]*Subscriber, error)
}

// Rebuilder is the reverse index seen from the mutation side.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Service owns all subscription mutations for one bot. Every mutation that
// changes the key set of a record's tokens map triggers an index rebuild;
// setters that only touch filter or presentation state do not.
//
// Mutations are read-modify-write on the store: concurrent edits to the same
// chat are last-write-wins.
type Service struct {
	store Store
	index Rebuilder
	log   *logger.Logger
}

func NewService(store Store, index Rebuilder, log *logger.Logger) *Service {
	return &Service{store: store, index: index, log: log}
}

func (s *Service) Store() Store {
	return s.store
}

// AddToken subscribes a chat to a token, creating the subscriber record on
// first use.
func (s *Service) AddToken(ctx context.Context, chatID int64, token types.Token) error {
	sub, err := s.store.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}
	if sub == nil {
		sub = NewSubscriber()
	}
	if _, exists := sub.Tokens[token]; exists {
		return nil
	}
	sub.Tokens[token] = DefaultSubscribedToken()
	if err := s.store.Save(ctx, chatID, sub); err != nil {
		return fmt.Errorf("save subscriber %d: %w", chatID, err)
	}
	return s.index.Rebuild(ctx)
}

// RemoveToken unsubscribes a chat from a token. The subscriber record stays
// even when its last token is removed, preserving the enabled flag.
func (s *Service) RemoveToken(ctx context.Context, chatID int64, token types.Token) error {
	sub, err := s.store.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}
	if sub == nil {
		return nil
	}
	if _, exists := sub.Tokens[token]; !exists {
		return nil
	}
	delete(sub.Tokens, token)
	if err := s.store.Save(ctx, chatID, sub); err != nil {
		return fmt.Errorf("save subscriber %d: %w", chatID, err)
	}
	return s.index.Rebuild(ctx)
}

// RemoveSubscriber drops a chat's record entirely.
func (s *Service) RemoveSubscriber(ctx context.Context, chatID int64) error {
	removed, err := s.store.Remove(ctx, chatID)
	if err != nil {
		return fmt.Errorf("remove subscriber %d: %w", chatID, err)
	}
	if removed == nil {
		return nil
	}
	return s.index.Rebuild(ctx)
}

// SetEnabled flips the per-chat kill switch. Not structural: the index keeps
// disabled chats as candidates and the matcher re-checks the flag per event.
func (s *Service) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	return s.update(ctx, chatID, func(sub *Subscriber) error {
		sub.Enabled = enabled
		return nil
	})
}

func (s *Service) SetBuys(ctx context.Context, chatID int64, token types.Token, on bool) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.Buys = on
	})
}

func (s *Service) SetSells(ctx context.Context, chatID int64, token types.Token, on bool) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.Sells = on
	})
}

func (s *Service) SetLpAdd(ctx context.Context, chatID int64, token types.Token, on bool) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.LpAdd = on
	})
}

func (s *Service) SetLpRemove(ctx context.Context, chatID int64, token types.Token, on bool) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.LpRemove = on
	})
}

func (s *Service) SetMinAmount(ctx context.Context, chatID int64, token types.Token, min *MinAmount) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.MinAmount = min
	})
}

// SetAttachments replaces the attachment rules, keeping them sorted ascending
// by threshold.
func (s *Service) SetAttachments(ctx context.Context, chatID int64, token types.Token, rules []AttachmentRule, currency Currency) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		sortAttachments(rules)
		cfg.Attachments = rules
		cfg.AttachmentCurrency = currency
	})
}

func (s *Service) SetComponents(ctx context.Context, chatID int64, token types.Token, components []Component) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.Components = components
	})
}

// ReorderComponents moves the component at position from to position to.
func (s *Service) ReorderComponents(ctx context.Context, chatID int64, token types.Token, from, to int) error {
	var outOfRange bool
	err := s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		if from < 0 || from >= len(cfg.Components) || to < 0 || to >= len(cfg.Components) {
			outOfRange = true
			return
		}
		moved := cfg.Components[from]
		rest := append(cfg.Components[:from:from], cfg.Components[from+1:]...)
		cfg.Components = append(rest[:to:to], append([]Component{moved}, rest[to:]...)...)
	})
	if err != nil {
		return err
	}
	if outOfRange {
		return fmt.Errorf("component index out of range (from=%d, to=%d)", from, to)
	}
	return nil
}

func (s *Service) SetLinks(ctx context.Context, chatID int64, token types.Token, links []Link) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.Links = links
	})
}

func (s *Service) SetButtons(ctx context.Context, chatID int64, token types.Token, buttons []Link) error {
	return s.updateToken(ctx, chatID, token, func(cfg *SubscribedToken) {
		cfg.Buttons = buttons
	})
}

// MigrateToken remaps every subscription under from to to, preserving each
// chat's configuration verbatim. Atomic per chat; one rebuild at the end.
// Used when a pre-launch auction finalizes into a deployed token contract.
func (s *Service) MigrateToken(ctx context.Context, from, to types.Token) error {
	all, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("iterate subscribers: %w", err)
	}
	migrated := 0
	for chatID, sub := range all {
		cfg, exists := sub.Tokens[from]
		if !exists {
			continue
		}
		delete(sub.Tokens, from)
		sub.Tokens[to] = cfg
		if err := s.store.Save(ctx, chatID, sub); err != nil {
			return fmt.Errorf("migrate subscriber %d: %w", chatID, err)
		}
		migrated++
	}
	if migrated == 0 {
		return nil
	}
	s.log.Info("Migrated token subscriptions",
		"from", from.String(), "to", to.String(), "chats", migrated)
	return s.index.Rebuild(ctx)
}

func (s *Service) update(ctx context.Context, chatID int64, mutate func(*Subscriber) error) error {
	sub, err := s.store.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}
	if sub == nil {
		return fmt.Errorf("chat %d has no subscriptions", chatID)
	}
	if err := mutate(sub); err != nil {
		return err
	}
	if err := s.store.Save(ctx, chatID, sub); err != nil {
		return fmt.Errorf("save subscriber %d: %w", chatID, err)
	}
	return nil
}

func (s *Service) updateToken(ctx context.Context, chatID int64, token types.Token, mutate func(*SubscribedToken)) error {
	return s.update(ctx, chatID, func(sub *Subscriber) error {
		cfg, exists := sub.Tokens[token]
		if !exists {
			return fmt.Errorf("chat %d is not subscribed to %s", chatID, token)
		}
		mutate(&cfg)
		sub.Tokens[token] = cfg
		return nil
	})
}
