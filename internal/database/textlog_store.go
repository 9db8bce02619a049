package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"near-buybot/internal/textlogs"
)

// TextLogStore implements textlogs.Store over postgres, bound to one bot
// identity.
type TextLogStore struct {
	db    *gorm.DB
	botID int64
}

func NewTextLogStore(db *gorm.DB, botID int64) *TextLogStore {
	return &TextLogStore{db: db, botID: botID}
}

func (s *TextLogStore) Get(ctx context.Context, chatID int64) (*textlogs.Subscriber, error) {
	var record TextLogRecord
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND chat_id = ?", s.botID, chatID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load text log subscriber bot=%d chat=%d: %w", s.botID, chatID, err)
	}
	return decodeTextLogSubscriber(&record)
}

func (s *TextLogStore) Save(ctx context.Context, chatID int64, sub *textlogs.Subscriber) error {
	filters, err := json.Marshal(sub.Filters)
	if err != nil {
		return fmt.Errorf("encode text log filters chat=%d: %w", chatID, err)
	}
	record := TextLogRecord{BotID: s.botID, ChatID: chatID, Enabled: sub.Enabled, Filters: filters}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}, {Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "filters"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("save text log subscriber bot=%d chat=%d: %w", s.botID, chatID, err)
	}
	return nil
}

func (s *TextLogStore) Remove(ctx context.Context, chatID int64) (*textlogs.Subscriber, error) {
	sub, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	err = s.db.WithContext(ctx).
		Where("bot_id = ? AND chat_id = ?", s.botID, chatID).
		Delete(&TextLogRecord{}).Error
	if err != nil {
		return nil, fmt.Errorf("remove text log subscriber bot=%d chat=%d: %w", s.botID, chatID, err)
	}
	return sub, nil
}

func (s *TextLogStore) All(ctx context.Context) (map[int64]*textlogs.Subscriber, error) {
	var records []TextLogRecord
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", s.botID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("iterate text log subscribers bot=%d: %w", s.botID, err)
	}
	out := make(map[int64]*textlogs.Subscriber, len(records))
	for i := range records {
		sub, err := decodeTextLogSubscriber(&records[i])
		if err != nil {
			return nil, fmt.Errorf("chat %d: %w", records[i].ChatID, err)
		}
		out[records[i].ChatID] = sub
	}
	return out, nil
}

func decodeTextLogSubscriber(record *TextLogRecord) (*textlogs.Subscriber, error) {
	var filters []textlogs.Filter
	if err := json.Unmarshal(record.Filters, &filters); err != nil {
		return nil, fmt.Errorf("decode text log filters: %w", err)
	}
	return &textlogs.Subscriber{Enabled: record.Enabled, Filters: filters}, nil
}
