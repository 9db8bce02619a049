package transport

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"near-buybot/shared/logger"
)

// Button is an inline URL button attached below a notification.
type Button struct {
	Text string
	URL  string
}

type AttachmentKind string

const (
	AttachmentPhoto     AttachmentKind = "photo"
	AttachmentAnimation AttachmentKind = "animation"
)

// Attachment is an optional media file sent with the notification text as
// its caption. FileID is a Telegram file id or an HTTP URL.
type Attachment struct {
	Kind   AttachmentKind
	FileID string
}

// Sender delivers one notification to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, buttons [][]Button, attachment *Attachment) error
}

// TelegramSender implements Sender over the Telegram Bot API with MarkdownV2
// formatting and 429-aware retries.
type TelegramSender struct {
	api *tgbotapi.BotAPI
	log *logger.Logger
}

const maxSendRetries = 3

func NewTelegramSender(botToken string, log *logger.Logger) (*TelegramSender, string, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize Telegram bot API: %w", err)
	}
	userInfo, err := api.GetMe()
	if err != nil {
		return nil, "", fmt.Errorf("failed to verify bot token with GetMe API call: %w", err)
	}
	log.Info("Telegram bot initialized", "username", userInfo.UserName)
	return &TelegramSender{api: api, log: log}, userInfo.UserName, nil
}

// BotID returns the numeric Telegram identity of the bot.
func (t *TelegramSender) BotID() int64 {
	return t.api.Self.ID
}

func (t *TelegramSender) Send(ctx context.Context, chatID int64, text string, buttons [][]Button, attachment *Attachment) error {
	var markup interface{}
	if len(buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
		for _, row := range buttons {
			btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			}
			rows = append(rows, btns)
		}
		markup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	msg := t.buildMessage(chatID, text, markup, attachment)

	var lastErr error
	for i := 0; i < maxSendRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if tgErr, ok := err.(*tgbotapi.Error); ok {
			if tgErr.Code == 429 {
				retryAfter := tgErr.RetryAfter
				if retryAfter <= 0 {
					retryAfter = 1
				}
				t.log.Info("Telegram API rate limit hit (429), retrying",
					"chatID", chatID, "retryAfterSeconds", retryAfter)
				time.Sleep(time.Duration(retryAfter) * time.Second)
				continue
			}
			// Chat-level failures (kicked, deactivated) will not succeed on retry.
			if tgErr.Code == 403 || (tgErr.Code == 400 && strings.Contains(tgErr.Message, "chat not found")) {
				return fmt.Errorf("telegram send to chat %d: %w", chatID, err)
			}
		}

		if i < maxSendRetries-1 {
			time.Sleep(time.Duration(math.Pow(2, float64(i))) * time.Second)
		}
	}
	return fmt.Errorf("telegram send to chat %d failed after %d retries: %w", chatID, maxSendRetries, lastErr)
}

func (t *TelegramSender) buildMessage(chatID int64, text string, markup interface{}, attachment *Attachment) tgbotapi.Chattable {
	if attachment != nil {
		switch attachment.Kind {
		case AttachmentPhoto:
			photo := tgbotapi.NewPhoto(chatID, fileFrom(attachment.FileID))
			photo.Caption = text
			photo.ParseMode = tgbotapi.ModeMarkdownV2
			if markup != nil {
				photo.ReplyMarkup = markup
			}
			return photo
		case AttachmentAnimation:
			anim := tgbotapi.NewAnimation(chatID, fileFrom(attachment.FileID))
			anim.Caption = text
			anim.ParseMode = tgbotapi.ModeMarkdownV2
			if markup != nil {
				anim.ReplyMarkup = markup
			}
			return anim
		}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return msg
}

func fileFrom(id string) tgbotapi.RequestFileData {
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return tgbotapi.FileURL(id)
	}
	return tgbotapi.FileID(id)
}

// EscapeMarkdownV2 escapes user-supplied text for Telegram MarkdownV2.
func EscapeMarkdownV2(s string) string {
	charsToEscape := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	temp := s
	for _, char := range charsToEscape {
		temp = strings.ReplaceAll(temp, char, "\\"+char)
	}
	return temp
}

// EscapeCode escapes text placed inside MarkdownV2 code spans.
func EscapeCode(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "`", "\\`")
}
