// Package telegram publishes to Telegram chats and channels through telebot.
//
// Account mapping: Credentials.AccessToken is the bot token, NativeID is the
// target chat (numeric id or @channel username). Credentials.Extra may carry
// "thread_id" for forum topics and "parse_mode".
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"crosspost/internal/domain"
	"crosspost/internal/retry"
	"crosspost/pkg/logx"
)

const captionLimit = 1024

type Config struct {
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL string
	// HTTPTimeout bounds one Bot API request.
	HTTPTimeout time.Duration
}

// Client implements gateway.Client. One telebot instance is kept per bot token.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New(cfg Config, log logx.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, log: log, http: &http.Client{Timeout: timeout}, bots: map[string]*tele.Bot{}}
}

// Connect validates the bot token with getMe (once per token) and the chat reference.
func (c *Client) Connect(ctx context.Context, account domain.PlatformAccount) error {
	if _, err := recipient(account.NativeID); err != nil {
		return err
	}
	_, err := c.bot(ctx, account.Credentials.AccessToken)
	return err
}

func (c *Client) Publish(ctx context.Context, account domain.PlatformAccount, item domain.ContentItem) error {
	to, err := recipient(account.NativeID)
	if err != nil {
		return err
	}
	b, err := c.bot(ctx, account.Credentials.AccessToken)
	if err != nil {
		return err
	}
	opt := sendOptions(account.Credentials.Extra)

	var what any
	switch {
	case item.Type == domain.ContentImage && item.MediaURL != "":
		what = &tele.Photo{File: tele.FromURL(item.MediaURL), Caption: caption(item.Text)}
	case item.Type == domain.ContentVideo && item.MediaURL != "":
		what = &tele.Video{File: tele.FromURL(item.MediaURL), Caption: caption(item.Text)}
	case item.Type == domain.ContentLink && item.MediaURL != "" && !strings.Contains(item.Text, item.MediaURL):
		what = strings.TrimSpace(item.Text + "\n" + item.MediaURL)
	default:
		what = item.Text
	}

	// telebot has no per-call context; run it aside so ctx still bounds the wait.
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := b.Send(to, what, opt)
		done <- result{m, err}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			err := fmt.Errorf("telegram send to %s: %w", account.NativeID, r.err)
			var flood tele.FloodError
			if errors.As(r.err, &flood) && flood.RetryAfter > 0 {
				return retry.After(err, time.Duration(flood.RetryAfter)*time.Second)
			}
			return err
		}
		if r.msg != nil {
			c.log.Debug("telegram message sent", logx.String("account", account.ID), logx.Int("message_id", r.msg.ID))
		}
		return nil
	}
}

func (c *Client) bot(ctx context.Context, token string) (*tele.Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: empty bot token (401 unauthorized)")
	}
	c.mu.Lock()
	b := c.bots[token]
	c.mu.Unlock()
	if b != nil {
		return b, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := newBot(token, c.cfg.APIURL, c.http)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	c.mu.Lock()
	if existing := c.bots[token]; existing != nil {
		b = existing
	} else {
		c.bots[token] = b
	}
	c.mu.Unlock()
	c.log.Info("telegram bot ready", logx.String("bot", b.Me.Username))
	return b, nil
}

func newBot(token, apiURL string, hc *http.Client) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		Token:  token,
		URL:    strings.TrimRight(strings.TrimSpace(apiURL), "/"),
		Client: hc,
	})
}

type username string

func (u username) Recipient() string { return string(u) }

func recipient(nativeID string) (tele.Recipient, error) {
	id := strings.TrimSpace(nativeID)
	if id == "" {
		return nil, errors.New("telegram: empty chat id")
	}
	if strings.HasPrefix(id, "@") {
		return username(id), nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q", nativeID)
	}
	return tele.ChatID(n), nil
}

func sendOptions(extra map[string]string) *tele.SendOptions {
	opt := &tele.SendOptions{}
	if v := strings.TrimSpace(extra["thread_id"]); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opt.ThreadID = n
		}
	}
	switch strings.ToLower(strings.TrimSpace(extra["parse_mode"])) {
	case "html":
		opt.ParseMode = tele.ModeHTML
	case "markdown", "markdownv2":
		opt.ParseMode = tele.ModeMarkdownV2
	}
	return opt
}

func caption(s string) string {
	r := []rune(s)
	if len(r) <= captionLimit {
		return s
	}
	return string(r[:captionLimit-3]) + "..."
}
