// Package logsink is a dry-run platform client: it logs posts instead of sending them.
package logsink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"crosspost/internal/domain"
	"crosspost/pkg/logx"
)

const maxKept = 256

// Post is one recorded publish.
type Post struct {
	At        time.Time
	Platform  string
	AccountID string
	Item      domain.ContentItem
}

type Client struct {
	log logx.Logger

	mu    sync.Mutex
	posts []Post
}

func New(log logx.Logger) *Client {
	return &Client{log: log}
}

// Connect requires an access token, like a real platform would.
func (c *Client) Connect(ctx context.Context, account domain.PlatformAccount) error {
	if strings.TrimSpace(account.Credentials.AccessToken) == "" {
		return errors.New("logsink: missing access token (401 unauthorized)")
	}
	return ctx.Err()
}

func (c *Client) Publish(ctx context.Context, account domain.PlatformAccount, item domain.ContentItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := Post{At: time.Now(), Platform: domain.NormalizePlatform(account.PlatformID), AccountID: account.ID, Item: item}
	c.mu.Lock()
	c.posts = append(c.posts, p)
	if len(c.posts) > maxKept {
		c.posts = c.posts[len(c.posts)-maxKept:]
	}
	c.mu.Unlock()

	c.log.Info("post published (dry run)",
		logx.String("platform", p.Platform),
		logx.String("account", account.ID),
		logx.String("handle", account.Handle),
		logx.String("type", string(item.Type)),
		logx.Int("chars", len([]rune(item.Text))),
	)
	return nil
}

// Posts returns the most recent recorded posts, oldest first.
func (c *Client) Posts() []Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Post(nil), c.posts...)
}
