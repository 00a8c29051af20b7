package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"maintd/internal/store"
)

// Telegram sends a short notification message per transition. Send-only: no
// poller is started, the bot client is used purely as an API handle.
type Telegram struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (h *Telegram) OnTransition(ctx context.Context, server store.Server, phase Phase) error {
	var msg string
	switch phase {
	case PhaseStart:
		msg = fmt.Sprintf("🔧 Maintenance started on %s (%s)", server.Name, server.Hostname)
	case PhaseEnd:
		msg = fmt.Sprintf("✅ Maintenance ended on %s (%s)", server.Name, server.Hostname)
	default:
		msg = fmt.Sprintf("maintenance %s on %s", phase, server.Name)
	}

	// telebot's Send has no context plumbing; run it in a goroutine and
	// honor ctx so a stuck Telegram API cannot exceed the hook timeout.
	done := make(chan error, 1)
	go func() {
		_, err := h.bot.Send(tele.ChatID(h.chatID), msg, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		return errors.New("telegram send: gave up waiting")
	}
}
