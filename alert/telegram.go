// Package alert is the best-effort Safety-Halt notification sink the
// Safety Supervisor calls on hl_reject/invalid_signature (SPEC_FULL.md
// §4.2, §2.2). Trimmed and adapted from the teacher's bot/telegram.go,
// which serves a much larger command/stats surface this core does not need.
package alert

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/ordersys/hlexec/safety"
)

// TelegramSink implements safety.Alerter. A nil *TelegramSink is not
// usable; callers without a configured bot token should pass nil to
// safety.New instead.
type TelegramSink struct {
	mu     sync.Mutex
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink builds a sink from a bot token and chat ID. Returns
// (nil, nil) when token is empty, matching storage.Database's
// enabled-flag pattern for an optional collaborator.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if token == "" {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("alert: create telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("telegram alert sink initialized")

	return &TelegramSink{api: api, chatID: chatID}, nil
}

// Notify sends a best-effort message; failures are logged, never returned,
// since the Safety Supervisor invokes this from a fire-and-forget
// goroutine (§4.2).
func (s *TelegramSink) Notify(reason safety.Reason, detail string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	text := fmt.Sprintf("🛑 Safety-Halt triggered\nreason: %s\ndetail: %s", reason, detail)
	msg := tgbotapi.NewMessage(s.chatID, text)

	if _, err := s.api.Send(msg); err != nil {
		log.Warn().Err(err).Str("reason", string(reason)).Msg("failed to send safety-halt alert")
	}
}
