package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Alerter sends operator alerts to one chat. It implements logx.AlertSender.
type Alerter struct {
	bot *tele.Bot
	to  tele.Recipient
}

// NewAlerter validates the token (getMe) and the chat reference.
func NewAlerter(token, chat string, cfg Config) (*Alerter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram alerter: token is empty")
	}
	to, err := recipient(chat)
	if err != nil {
		return nil, err
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := newBot(token, cfg.APIURL, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return &Alerter{bot: b, to: to}, nil
}

func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(a.to, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
