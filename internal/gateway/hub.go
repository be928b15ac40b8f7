package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"crosspost/internal/batch"
	"crosspost/internal/domain"
	"crosspost/internal/retry"
	"crosspost/pkg/logx"
)

// Config tunes the Hub. Zero values take defaults.
type Config struct {
	// PublishTimeout bounds a single Connect or Publish call.
	PublishTimeout time.Duration
	// Concurrency is the fan-out group size per distribution.
	Concurrency int

	// Publishes per second per platform. Platforms missing from PlatformRates
	// use DefaultRatePerSec; a rate <= 0 disables limiting.
	DefaultRatePerSec float64
	PlatformRates     map[string]float64

	CircuitTripFailures int // <0 disables
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

const (
	DefaultPublishTimeout = 30 * time.Second
	DefaultRatePerSec     = 5
)

// Hub implements Gateway over registered platform Clients.
type Hub struct {
	log logx.Logger
	now func() time.Time

	mu       sync.Mutex
	cfg      Config
	clients  map[string]Client
	conns    map[string]connState
	limiters map[string]*rate.Limiter

	circuits circuitStore
}

type connState struct {
	platform    string
	connectedAt time.Time
}

// Snapshot is a point-in-time view for logs and diagnostics.
type Snapshot struct {
	Platforms       []string `json:"platforms"`
	Connections     int      `json:"connections"`
	CircuitsTracked int      `json:"circuits_tracked"`
	CircuitsOpen    int      `json:"circuits_open"`
}

func NewHub(cfg Config, log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log:      log,
		now:      time.Now,
		cfg:      withDefaults(cfg),
		clients:  map[string]Client{},
		conns:    map[string]connState{},
		limiters: map[string]*rate.Limiter{},
	}
}

func withDefaults(cfg Config) Config {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = batch.DefaultConcurrency
	}
	return cfg
}

// Register binds a client to a platform id. A later call replaces the client.
func (h *Hub) Register(platformID string, c Client) {
	p := domain.NormalizePlatform(platformID)
	h.mu.Lock()
	h.clients[p] = c
	h.mu.Unlock()
	h.log.Debug("platform client registered", logx.String("platform", p))
}

// Apply swaps tuning at runtime. Existing limiters are rebuilt lazily.
func (h *Hub) Apply(cfg Config) {
	h.mu.Lock()
	h.cfg = withDefaults(cfg)
	clear(h.limiters)
	h.mu.Unlock()
}

func (h *Hub) InitializeClient(ctx context.Context, account domain.PlatformAccount) error {
	p := domain.NormalizePlatform(account.PlatformID)
	h.mu.Lock()
	c := h.clients[p]
	timeout := h.cfg.PublishTimeout
	h.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Connect(cctx, account); err != nil {
		h.mu.Lock()
		delete(h.conns, account.ID)
		h.mu.Unlock()
		h.log.Warn("platform connect failed", logx.String("platform", p), logx.String("account", account.ID), logx.Err(err))
		return err
	}

	h.mu.Lock()
	if _, ok := h.conns[account.ID]; !ok {
		h.conns[account.ID] = connState{platform: p, connectedAt: h.now()}
		h.log.Debug("platform connected", logx.String("platform", p), logx.String("account", account.ID))
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) DistributeContent(ctx context.Context, targets []domain.PlatformAccount, item domain.ContentItem, transform TransformFunc) []DeliveryResult {
	results := make([]DeliveryResult, len(targets))
	for i, t := range targets {
		results[i] = DeliveryResult{Platform: domain.NormalizePlatform(t.PlatformID), AccountID: t.ID}
	}

	h.mu.Lock()
	conc := h.cfg.Concurrency
	h.mu.Unlock()

	res := batch.Process(ctx, h.log, targets, conc, func(ctx context.Context, i int, acc domain.PlatformAccount) error {
		defer func() {
			if !results[i].Success && results[i].Error == "" {
				results[i].Error = "publish aborted"
			}
		}()
		out := item
		if transform != nil {
			out.Text = transform(item.Text, results[i].Platform)
		}
		err := h.publish(ctx, acc, out)
		if err != nil {
			results[i].Error = err.Error()
			var ae retry.AfterError
			if errors.As(err, &ae) {
				results[i].RetryAfter = ae.RetryAfter()
			}
			return err
		}
		results[i].Success = true
		return nil
	})

	// Items skipped by a canceled context never ran.
	for i := range results {
		if !results[i].Success && results[i].Error == "" {
			results[i].Error = "not attempted: " + errString(ctx.Err())
		}
	}
	h.log.Debug("content distributed", logx.Int("targets", len(targets)), logx.Int("ok", res.Successful), logx.Int("failed", res.Failed))
	return results
}

func (h *Hub) publish(ctx context.Context, acc domain.PlatformAccount, item domain.ContentItem) error {
	p := domain.NormalizePlatform(acc.PlatformID)

	h.mu.Lock()
	c := h.clients[p]
	_, connected := h.conns[acc.ID]
	cfg := h.cfg
	lim := h.limiterLocked(p)
	h.mu.Unlock()

	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	if !connected {
		return fmt.Errorf("%w: %s", ErrNotInitialized, acc.ID)
	}
	cc := effectiveCircuitCfg(cfg)
	if open, until := h.circuits.isOpen(h.now(), acc.ID, cc); open {
		return fmt.Errorf("%w: %s until %s", ErrCircuitOpen, acc.ID, until.Format(time.RFC3339))
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
	err := c.Publish(pctx, acc, item)
	cancel()
	h.circuits.record(h.now(), acc.ID, cc, err)
	if err != nil {
		h.log.Warn("publish failed", logx.String("platform", p), logx.String("account", acc.ID), logx.Err(err))
	}
	return err
}

func (h *Hub) limiterLocked(platform string) *rate.Limiter {
	if lim, ok := h.limiters[platform]; ok {
		return lim
	}
	rps := h.cfg.DefaultRatePerSec
	if v, ok := h.cfg.PlatformRates[platform]; ok {
		rps = v
	}
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	h.limiters[platform] = lim
	return lim
}

func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	platforms := make([]string, 0, len(h.clients))
	for p := range h.clients {
		platforms = append(platforms, p)
	}
	conns := len(h.conns)
	h.mu.Unlock()
	sort.Strings(platforms)
	total, open := h.circuits.snapshot(h.now())
	return Snapshot{Platforms: platforms, Connections: conns, CircuitsTracked: total, CircuitsOpen: open}
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
