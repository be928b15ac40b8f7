// Package gateway connects platform accounts and fans content out to them.
//
// Hub is the production Gateway. It keeps a registry of platform Clients,
// remembers which accounts were initialized, rate-limits publishes per platform,
// and trips a per-account circuit breaker after repeated publish failures.
package gateway

import (
	"context"
	"errors"
	"time"

	"crosspost/internal/domain"
)

var (
	ErrUnknownPlatform = errors.New("gateway: no client for platform")
	ErrNotInitialized  = errors.New("gateway: account not initialized")
	ErrCircuitOpen     = errors.New("gateway: circuit open for account")
)

// TransformFunc adapts raw text for one destination platform.
type TransformFunc func(text, platformID string) string

// DeliveryResult is the outcome of publishing to one destination.
type DeliveryResult struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	// RetryAfter is the wait the platform asked for before the next attempt.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Gateway is what the executor needs from the platform layer.
type Gateway interface {
	InitializeClient(ctx context.Context, account domain.PlatformAccount) error
	// DistributeContent returns one result per target, in target order.
	// transform is called once per destination.
	DistributeContent(ctx context.Context, targets []domain.PlatformAccount, item domain.ContentItem, transform TransformFunc) []DeliveryResult
}

// Client is a connector for one platform.
//
// Connect validates credentials and prepares a session for the account; it may be
// called repeatedly and should be cheap once connected. Publish sends one post.
type Client interface {
	Connect(ctx context.Context, account domain.PlatformAccount) error
	Publish(ctx context.Context, account domain.PlatformAccount, item domain.ContentItem) error
}
