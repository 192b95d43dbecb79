package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bongobot/internal/eventbus"
	logx "bongobot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
		err   bool
	}{
		{in: "1m", kind: SpecInterval, every: time.Minute},
		{in: "2h30m", kind: SpecInterval, every: 150 * time.Minute},
		{in: "00:50", kind: SpecInterval, every: 50 * time.Minute},
		{in: "every: 01:00", kind: SpecInterval, every: time.Hour},
		{in: "Interval:5s", kind: SpecInterval, every: 5 * time.Second},
		{in: "@every 1m", kind: SpecCron, cron: "@every 1m"},
		{in: "0 9 * * *", kind: SpecCron, cron: "0 9 * * *"},
		{in: "cron:@daily", kind: SpecCron, cron: "@daily"},
		{in: "", err: true},
		{in: "0s", err: true},
		{in: "00:60", err: true},
		{in: "soon", err: true},
		{in: "cron:", err: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Cron != tt.cron || got.Every != tt.every {
			t.Fatalf("ParseSchedule(%q) = %+v, want kind=%d cron=%q every=%s", tt.in, got, tt.kind, tt.cron, tt.every)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("07:05")
	if err != nil || h != 7 || m != 5 {
		t.Fatalf("parseHHMM(07:05) = %d, %d, %v", h, m, err)
	}
	for _, bad := range []string{"7", "24:00", "12:60", "a:b"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("parseHHMM(%q) succeeded, want error", bad)
		}
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }
	if err := s.AddCron(" ", "@every 1s", 0, noop); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("AddCron(blank name) = %v, want ErrNameRequired", err)
	}
	if err := s.AddCron("x", "not a cron", 0, noop); err == nil {
		t.Fatal("AddCron(bad spec) succeeded")
	}
	if err := s.AddInterval("x", 0, 0, noop); err == nil {
		t.Fatal("AddInterval(0) succeeded")
	}
	if err := s.AddDaily("x", "25:00", 0, noop); err == nil {
		t.Fatal("AddDaily(25:00) succeeded")
	}
}

func TestAddReplacesByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }
	if err := s.AddSchedule("scan", "1m", time.Second, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("scan", "0 9 * * *", time.Second, noop); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Spec != "0 9 * * *" {
		t.Fatalf("Snapshot() = %+v, want one replaced schedule", snap)
	}
	if !s.Remove("scan") || s.Remove("scan") {
		t.Fatal("Remove should report true once")
	}
}

func TestIntervalRunsAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{Location: time.UTC}, logx.Nop(), nil)
	var n atomic.Int32
	if err := s.AddInterval("tick", time.Second, time.Second, func(context.Context) error {
		n.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if n.Load() == 0 {
		t.Fatal("interval job never ran")
	}
}

func TestRunNowSkipsOverlapAndReportsFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, EventRunFailed, EventRunSkipped)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	if err := s.AddCron("slow", "@daily", 5*time.Second, func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("slow"); err == nil {
		t.Fatal("RunNow before Start succeeded")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.RunNow("slow"); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := s.RunNow("slow"); err != nil {
		t.Fatal(err)
	}

	want := []string{EventRunSkipped, EventRunFailed}
	for i, typ := range want {
		select {
		case e := <-events:
			if e.Type != typ {
				t.Fatalf("event[%d] = %q, want %q", i, e.Type, typ)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %q", typ)
		}
		if i == 0 {
			close(release)
		}
	}

	snap := s.Snapshot()
	if snap[0].Runs != 1 || snap[0].Skipped != 1 || snap[0].Failed != 1 {
		t.Fatalf("counters = %+v, want runs=1 skipped=1 failed=1", snap[0])
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	done := make(chan error, 1)
	if err := s.AddCron("t", "@daily", 50*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	_ = s.RunNow("t")
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("run ctx err = %v, want deadline exceeded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run was not canceled by its timeout")
	}
}
