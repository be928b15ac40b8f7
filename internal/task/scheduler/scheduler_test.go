package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron:0 9 * * 1", kind: SpecCron, cron: "0 9 * * 1"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "every:1m", kind: SpecInterval, every: time.Minute},
		{in: "interval:00:05", kind: SpecInterval, every: 5 * time.Minute},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "00:61", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSchedule(%q) err = %v", tt.in, err)
		}
		if err != nil {
			continue
		}
		if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
		}
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	job := func(context.Context) error { return nil }
	if _, err := s.AddSchedule(" ", "1m", 0, job); err == nil {
		t.Fatal("expected name error")
	}
	if _, err := s.AddCron("bad", "not a cron", 0, job); err == nil {
		t.Fatal("expected cron parse error")
	}
	if _, err := s.AddInterval("neg", -time.Second, 0, job); err == nil {
		t.Fatal("expected interval error")
	}
	if _, err := s.AddSchedule("poll", "1m", 0, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := s.AddSchedule("poll", "*/2 * * * *", 0, job); err != nil {
		t.Fatalf("AddSchedule replace: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "*/2 * * * *" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if !s.Remove("poll") || s.Remove("poll") {
		t.Fatal("Remove should succeed once")
	}
}

func waitIdle(t *testing.T, s *Service, name string) ScheduleInfo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, it := range s.Snapshot().Schedules {
			if it.Name == name && !it.Running && it.Runs > 0 {
				return it
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("schedule %q never settled", name)
	return ScheduleInfo{}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	if _, err := s.AddInterval("poll", time.Hour, 0, func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return errors.New("partial outage")
	}); err != nil {
		t.Fatal(err)
	}

	if !s.Trigger("poll") {
		t.Fatal("first trigger should run")
	}
	<-started
	if s.Trigger("poll") {
		t.Fatal("second trigger should be skipped")
	}
	close(release)

	it := waitIdle(t, s, "poll")
	if it.Runs != 1 || it.Skips != 1 || it.Failures != 1 || it.LastErr != "partial outage" {
		t.Fatalf("info = %+v", it)
	}
	if h := s.Snapshot().History; len(h) != 1 || h[0].Error != "partial outage" {
		t.Fatalf("history = %+v", h)
	}
	if s.Trigger("missing") {
		t.Fatal("unknown schedule triggered")
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())

	started := make(chan struct{})
	canceled := make(chan error, 1)
	_, _ = s.AddInterval("audit", time.Hour, 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled <- ctx.Err()
		return ctx.Err()
	})
	s.Trigger("audit")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case err := <-canceled:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	default:
		t.Fatal("job did not observe cancellation")
	}
	if s.Trigger("audit") {
		t.Fatal("trigger after stop should fail")
	}
}

func TestJobPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	_, _ = s.AddInterval("boom", time.Hour, time.Second, func(context.Context) error { panic("kaboom") })
	s.Trigger("boom")
	it := waitIdle(t, s, "boom")
	if it.Failures != 1 || it.LastErr != "panic: kaboom" {
		t.Fatalf("info = %+v", it)
	}
}
