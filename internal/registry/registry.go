// Package registry owns the set of configured bot identities and the event
// broadcast loop. Every module registers an EventHandler; each incoming
// indexer event is handed to every handler in turn.
package registry

import (
	"context"
	"time"

	"gorm.io/gorm"

	"near-buybot/internal/ratelimit"
	"near-buybot/internal/transport"
	"near-buybot/internal/types"
	"near-buybot/shared/config"
	"near-buybot/shared/logger"
)

// Bot is one Telegram bot identity with its own transport and notification
// limiter. Modules create their own per-bot stores keyed by ID.
type Bot struct {
	id     int64
	name   string
	sender transport.Sender
	limits *ratelimit.PerChat
}

func (b *Bot) ID() int64 {
	return b.id
}

func (b *Bot) Name() string {
	return b.name
}

// ReachedNotificationLimit is the advisory per-chat rate check performed by
// dispatchers right before formatting a notification.
func (b *Bot) ReachedNotificationLimit(chatID int64) bool {
	return b.limits.ReachedLimit(chatID)
}

func (b *Bot) Send(ctx context.Context, chatID int64, text string, buttons [][]transport.Button, attachment *transport.Attachment) error {
	return b.sender.Send(ctx, chatID, text, buttons, attachment)
}

// Registry is the top-level coordinator: bots, shared database handle, and
// registered event handlers.
type Registry struct {
	db       *gorm.DB
	log      *logger.Logger
	bots     []*Bot
	handlers []types.EventHandler
}

func New(db *gorm.DB, log *logger.Logger) *Registry {
	return &Registry{db: db, log: log}
}

// LoadBots instantiates every enabled bot from config. A bot whose token
// fails verification is logged and skipped; the process keeps running with
// the bots that did load.
func (r *Registry) LoadBots(bots []config.BotConfig, notificationsPerMinute int) {
	for _, cfg := range bots {
		sender, username, err := transport.NewTelegramSender(cfg.Token, r.log)
		if err != nil {
			r.log.Error("Failed to initialize bot, skipping", "bot", cfg.Name, "error", err)
			continue
		}
		bot := &Bot{
			id:     sender.BotID(),
			name:   cfg.Name,
			sender: sender,
			limits: ratelimit.NewPerChat(notificationsPerMinute),
		}
		r.bots = append(r.bots, bot)
		r.log.Info("Bot loaded", "bot", cfg.Name, "username", username, "botID", bot.id)
	}
	if len(r.bots) == 0 {
		r.log.Warn("No bots loaded; events will be consumed but nothing will be delivered.")
	}
}

// AddBot registers a pre-built bot. Used by tests and by embedders that
// bring their own transport.
func (r *Registry) AddBot(id int64, name string, sender transport.Sender, limits *ratelimit.PerChat) *Bot {
	bot := &Bot{id: id, name: name, sender: sender, limits: limits}
	r.bots = append(r.bots, bot)
	return bot
}

func (r *Registry) Bots() []*Bot {
	return r.bots
}

func (r *Registry) Bot(id int64) *Bot {
	for _, b := range r.bots {
		if b.id == id {
			return b
		}
	}
	return nil
}

func (r *Registry) DB() *gorm.DB {
	return r.db
}

func (r *Registry) RegisterHandler(h types.EventHandler) {
	r.handlers = append(r.handlers, h)
}

const handlerWarningThreshold = 10 * time.Millisecond

// HandleEvent broadcasts one event to every registered handler. Handler
// errors are logged, never propagated: one module's failure must not starve
// the others.
func (r *Registry) HandleEvent(ctx context.Context, event types.Event) {
	for _, handler := range r.handlers {
		start := time.Now()
		if err := handler.HandleEvent(ctx, event); err != nil {
			r.log.Error("Failed to handle event", "eventType", string(event.EventType()), "error", err)
		}
		if elapsed := time.Since(start); elapsed > handlerWarningThreshold {
			r.log.Warn("Event handler is slow",
				"eventType", string(event.EventType()), "elapsed", elapsed.String())
		}
	}
}
