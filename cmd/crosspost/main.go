package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"crosspost/internal/app"
	"crosspost/internal/config"
)

func main() {
	var cfgPath, envPath, runTask string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml); empty uses defaults")
	flag.StringVar(&envPath, "env", ".env", "optional .env file with secrets")
	flag.StringVar(&runTask, "run", "", "execute one active task by id, print the outcome and exit")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: env:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if runTask != "" {
		code := runOnce(ctx, a, runTask)
		_ = a.Stop(context.Background(), app.StopRunOnce)
		cancel()
		os.Exit(code)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	// Not running under systemd is fine; SdNotify then reports false.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := watchdog(ctx)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// runOnce executes taskID outside the schedule. The exit code is non-zero
// unless the run succeeded or partially succeeded.
func runOnce(ctx context.Context, a *app.App, taskID string) int {
	ex, err := a.Dispatch().RunNow(ctx, taskID)
	if ex.ID != "" {
		fmt.Printf("execution %s: %s (processed %d, failed %d, took %s)\n", ex.ID, ex.Status, ex.ItemsProcessed, ex.ItemsFailed, ex.Duration)
		for _, e := range ex.Errors {
			fmt.Printf("  %s %s %s: %s\n", e.Code, e.Platform, e.AccountID, e.Message)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return 1
	}
	return 0
}

// watchdog pings systemd at half the configured WatchdogSec until stopped.
func watchdog(ctx context.Context) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return cancel
}
