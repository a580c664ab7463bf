package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramConfig is the subset of the teacher's telegram.Config this sink
// needs: a bot token and the single chat to notify.
type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// TelegramSink posts rollback/failure notifications to one chat. Grounded
// on the teacher's internal/interfaces/telegram/adapter.go: same
// tgbotapi.NewBotAPI construction, same Markdown-parse-mode NewMessage
// send, trimmed to a fire-and-forget notifier with no inbound handling.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramSink authorizes against the Telegram Bot API and returns a
// sink bound to one chat.
func NewTelegramSink(cfg TelegramConfig, logger *zap.Logger) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("telegram notify sink authorized", zap.String("username", bot.Self.UserName))
	return &TelegramSink{bot: bot, chatID: cfg.ChatID, logger: logger}, nil
}

func formatEvent(event Event) string {
	var b strings.Builder
	if event.Urgent {
		b.WriteString("⚠️ *")
	} else {
		b.WriteString("*")
	}
	b.WriteString(event.Title)
	b.WriteString("*\n")
	if event.Body != "" {
		b.WriteString(event.Body)
		b.WriteString("\n")
	}
	for k, v := range event.Fields {
		fmt.Fprintf(&b, "_%s_: %s\n", k, v)
	}
	return b.String()
}

// Notify sends event as a Markdown-formatted message to the configured
// chat.
func (s *TelegramSink) Notify(ctx context.Context, event Event) error {
	msg := tgbotapi.NewMessage(s.chatID, formatEvent(event))
	msg.ParseMode = "Markdown"
	if _, err := s.bot.Send(msg); err != nil {
		s.logger.Warn("telegram notify failed", zap.String("title", event.Title), zap.Error(err))
		return err
	}
	return nil
}

var _ Sink = (*TelegramSink)(nil)
