package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"crosspost/internal/app"
)

const runConfig = `{
  "logging": {"level": "error", "console": false},
  "storage": {"driver": "memory"},
  "dispatch": {"enabled": false},
  "retry": {"max_retries": 0},
  "gateway": {"rate_per_sec": 0, "dry_run": ["twitter"]},
  "seed": {
    "accounts": [
      {"id": "a1", "user_id": "u1", "platform_id": "twitter", "native_id": "111", "credentials": {"access_token": "t1"}, "active": true}
    ],
    "tasks": [
      {"id": "t1", "user_id": "u1", "name": "once", "description": "hello", "source_accounts": ["a1"], "target_accounts": ["a1"],
       "content_type": "text", "status": "active", "execution_mode": "immediate"}
    ]
  }
}`

func TestRunOnceExecutesTaskThenRefusesIt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "crosspost.json")
	if err := os.WriteFile(p, []byte(runConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a, err := app.New(ctx, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), app.StopRunOnce) })

	if code := runOnce(ctx, a, "t1"); code != 0 {
		t.Fatalf("first run exit = %d, want 0", code)
	}
	// The one-shot task is completed now.
	if code := runOnce(ctx, a, "t1"); code != 1 {
		t.Fatalf("second run exit = %d, want 1", code)
	}
	if code := runOnce(ctx, a, "missing"); code != 1 {
		t.Fatalf("unknown task exit = %d, want 1", code)
	}
}
