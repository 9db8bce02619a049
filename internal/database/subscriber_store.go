package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"near-buybot/internal/subscriptions"
	"near-buybot/internal/types"
)

// SubscriberStore implements subscriptions.Store over postgres, bound to one
// bot identity.
type SubscriberStore struct {
	db    *gorm.DB
	botID int64
}

func NewSubscriberStore(db *gorm.DB, botID int64) *SubscriberStore {
	return &SubscriberStore{db: db, botID: botID}
}

func (s *SubscriberStore) Get(ctx context.Context, chatID int64) (*subscriptions.Subscriber, error) {
	var record SubscriberRecord
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND chat_id = ?", s.botID, chatID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriber bot=%d chat=%d: %w", s.botID, chatID, err)
	}
	return decodeSubscriber(record.Config)
}

func (s *SubscriberStore) Save(ctx context.Context, chatID int64, sub *subscriptions.Subscriber) error {
	config, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscriber chat=%d: %w", chatID, err)
	}
	record := SubscriberRecord{BotID: s.botID, ChatID: chatID, Config: config}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}, {Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"config"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("save subscriber bot=%d chat=%d: %w", s.botID, chatID, err)
	}
	return nil
}

func (s *SubscriberStore) Remove(ctx context.Context, chatID int64) (*subscriptions.Subscriber, error) {
	sub, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	err = s.db.WithContext(ctx).
		Where("bot_id = ? AND chat_id = ?", s.botID, chatID).
		Delete(&SubscriberRecord{}).Error
	if err != nil {
		return nil, fmt.Errorf("remove subscriber bot=%d chat=%d: %w", s.botID, chatID, err)
	}
	return sub, nil
}

func (s *SubscriberStore) All(ctx context.Context) (map[int64]*subscriptions.Subscriber, error) {
	var records []SubscriberRecord
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", s.botID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("iterate subscribers bot=%d: %w", s.botID, err)
	}
	out := make(map[int64]*subscriptions.Subscriber, len(records))
	for _, record := range records {
		sub, err := decodeSubscriber(record.Config)
		if err != nil {
			return nil, fmt.Errorf("chat %d: %w", record.ChatID, err)
		}
		out[record.ChatID] = sub
	}
	return out, nil
}

func decodeSubscriber(config []byte) (*subscriptions.Subscriber, error) {
	var sub subscriptions.Subscriber
	if err := json.Unmarshal(config, &sub); err != nil {
		return nil, fmt.Errorf("decode subscriber config: %w", err)
	}
	if sub.Tokens == nil {
		sub.Tokens = make(map[types.Token]subscriptions.SubscribedToken)
	}
	return &sub, nil
}
