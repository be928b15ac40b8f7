package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crosspost/internal/domain"
	"crosspost/internal/retry"
	"crosspost/pkg/logx"
)

type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	failFor    map[string]bool
	failWith   error
	published  []string
}

func (f *fakeClient) Connect(ctx context.Context, _ domain.PlatformAccount) error {
	return f.connectErr
}

func (f *fakeClient) Publish(ctx context.Context, acc domain.PlatformAccount, item domain.ContentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[acc.ID] {
		if f.failWith != nil {
			return f.failWith
		}
		return errors.New("boom")
	}
	f.published = append(f.published, acc.ID+":"+item.Text)
	return nil
}

func acct(id, platform string) domain.PlatformAccount {
	return domain.PlatformAccount{ID: id, PlatformID: platform, Active: true}
}

func newTestHub(cfg Config) *Hub {
	cfg.DefaultRatePerSec = 0
	return NewHub(cfg, logx.Nop())
}

func TestInitializeClientUnknownPlatform(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{})
	err := h.InitializeClient(context.Background(), acct("a", "myspace"))
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("err = %v, want ErrUnknownPlatform", err)
	}
}

func TestDistributeRequiresInitialization(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{})
	fc := &fakeClient{}
	h.Register("twitter", fc)
	ctx := context.Background()

	ready := acct("ready", "twitter")
	if err := h.InitializeClient(ctx, ready); err != nil {
		t.Fatalf("InitializeClient: %v", err)
	}
	res := h.DistributeContent(ctx, []domain.PlatformAccount{ready, acct("cold", "twitter")}, domain.ContentItem{Text: "hi"}, nil)
	if len(res) != 2 {
		t.Fatalf("results = %d", len(res))
	}
	if !res[0].Success || res[0].AccountID != "ready" {
		t.Fatalf("res[0] = %+v", res[0])
	}
	if res[1].Success || !strings.Contains(res[1].Error, "not initialized") {
		t.Fatalf("res[1] = %+v", res[1])
	}
}

func TestDistributeTransformsPerDestination(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{Concurrency: 2})
	tw, tg := &fakeClient{}, &fakeClient{}
	h.Register("Twitter", tw)
	h.Register("telegram", tg)
	ctx := context.Background()

	targets := []domain.PlatformAccount{acct("t1", "twitter"), acct("g1", "telegram"), acct("t2", "TWITTER")}
	for _, a := range targets {
		if err := h.InitializeClient(ctx, a); err != nil {
			t.Fatalf("InitializeClient(%s): %v", a.ID, err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	transform := func(text, platform string) string {
		mu.Lock()
		seen[platform]++
		mu.Unlock()
		return text + "@" + platform
	}
	res := h.DistributeContent(ctx, targets, domain.ContentItem{Text: "x"}, transform)
	for i, r := range res {
		if !r.Success {
			t.Fatalf("res[%d] = %+v", i, r)
		}
		if r.AccountID != targets[i].ID {
			t.Fatalf("res[%d].AccountID = %s, want %s", i, r.AccountID, targets[i].ID)
		}
	}
	if seen["twitter"] != 2 || seen["telegram"] != 1 {
		t.Fatalf("transform calls = %v", seen)
	}
	if len(tg.published) != 1 || tg.published[0] != "g1:x@telegram" {
		t.Fatalf("telegram published = %v", tg.published)
	}
}

func TestDistributeKeepsRetryAfterHint(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{})
	fc := &fakeClient{failFor: map[string]bool{"slow": true}, failWith: retry.After(errors.New("too many requests"), 7*time.Second)}
	h.Register("telegram", fc)
	ctx := context.Background()
	targets := []domain.PlatformAccount{acct("slow", "telegram"), acct("fine", "telegram")}
	for _, a := range targets {
		if err := h.InitializeClient(ctx, a); err != nil {
			t.Fatalf("InitializeClient: %v", err)
		}
	}
	res := h.DistributeContent(ctx, targets, domain.ContentItem{Text: "x"}, nil)
	if res[0].Success || res[0].RetryAfter != 7*time.Second {
		t.Fatalf("res[0] = %+v", res[0])
	}
	if !res[1].Success || res[1].RetryAfter != 0 {
		t.Fatalf("res[1] = %+v", res[1])
	}
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{CircuitTripFailures: 2, CircuitBaseDelay: time.Minute})
	fc := &fakeClient{failFor: map[string]bool{"bad": true}}
	h.Register("twitter", fc)
	ctx := context.Background()
	bad := acct("bad", "twitter")
	if err := h.InitializeClient(ctx, bad); err != nil {
		t.Fatalf("InitializeClient: %v", err)
	}

	for i := 0; i < 2; i++ {
		res := h.DistributeContent(ctx, []domain.PlatformAccount{bad}, domain.ContentItem{Text: "x"}, nil)
		if res[0].Error != "boom" {
			t.Fatalf("attempt %d: %+v", i, res[0])
		}
	}
	res := h.DistributeContent(ctx, []domain.PlatformAccount{bad}, domain.ContentItem{Text: "x"}, nil)
	if !strings.Contains(res[0].Error, "circuit open") {
		t.Fatalf("res = %+v, want circuit open", res[0])
	}

	snap := h.Snapshot()
	if snap.CircuitsOpen != 1 || snap.Connections != 1 || len(snap.Platforms) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestConnectFailureForgetsAccount(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{})
	fc := &fakeClient{}
	h.Register("twitter", fc)
	ctx := context.Background()
	a := acct("a", "twitter")
	if err := h.InitializeClient(ctx, a); err != nil {
		t.Fatal(err)
	}
	fc.connectErr = errors.New("401 unauthorized")
	if err := h.InitializeClient(ctx, a); err == nil {
		t.Fatal("expected connect error")
	}
	if got := h.Snapshot().Connections; got != 0 {
		t.Fatalf("connections = %d, want 0", got)
	}
}

func TestDistributeCanceledContext(t *testing.T) {
	t.Parallel()
	h := newTestHub(Config{})
	h.Register("twitter", &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.DistributeContent(ctx, []domain.PlatformAccount{acct("a", "twitter")}, domain.ContentItem{}, nil)
	if res[0].Success || res[0].Error == "" {
		t.Fatalf("res = %+v", res[0])
	}
}
