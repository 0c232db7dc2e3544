// Package telegram relays contact messages to an administrator chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/aerth/contactd/contact"
)

// maxText is Telegram's message length limit in characters.
const maxText = 4096

type Bot struct {
	T         *tgbotapi.BotAPI
	adminchat int64
	log       *zap.SugaredLogger
}

// New logs in with key. Endpoint is tgbotapi.APIEndpoint unless overridden.
func New(key string, adminchat int64, endpoint string, log *zap.SugaredLogger) (*Bot, error) {
	if key == "" {
		return nil, errors.New("telegram: no bot token")
	}
	if adminchat == 0 {
		return nil, errors.New("telegram: no admin chat id")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var client = &http.Client{Timeout: 30 * time.Second}
	t, err := tgbotapi.NewBotAPIWithClient(key, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	log.Infow("logged in", "bot", t.Self.UserName)
	return &Bot{T: t, adminchat: adminchat, log: log}, nil
}

// Send posts the subject and body as plain text. The bot API call is not
// cancellable, so ctx only bounds the wait.
func (b *Bot) Send(ctx context.Context, m *contact.Message) error {
	msg := tgbotapi.NewMessage(b.adminchat, truncate(m.Subject+"\n\n"+m.Body, maxText))
	done := make(chan error, 1)
	go func() {
		_, err := b.T.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		b.log.Debugw("relayed", "id", m.ID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: %w", ctx.Err())
	}
}

// Notify sends a one-line notice to the admin chat without waiting.
func (b *Bot) Notify(s string) {
	go func() {
		if _, err := b.T.Send(tgbotapi.NewMessage(b.adminchat, truncate(s, maxText))); err != nil {
			b.log.Warnw("sending notice", "error", err)
		}
	}()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
