package plugin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bongobot/internal/eventbus"
	"bongobot/internal/router"
	"bongobot/internal/task/scheduler"
	logx "bongobot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.calls, ",")
}

type fakePlugin struct {
	Base
	name       string
	rec        *recorder
	startErr   error
	startPanic bool
	schedule   string
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Init(_ context.Context, deps Deps) error {
	p.InitBase(deps, p.name)
	p.rec.add("init:" + p.name)
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error {
	if p.startPanic {
		panic("boom")
	}
	if p.startErr != nil {
		return p.startErr
	}
	p.StartBase(ctx)
	if p.schedule != "" {
		if _, err := p.Schedule("tick", p.schedule, time.Second, func(context.Context) error { return nil }); err != nil {
			return err
		}
	}
	p.rec.add("start:" + p.name)
	return nil
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	p.rec.add("stop:" + p.name)
	return p.StopBase(ctx)
}

func (p *fakePlugin) Commands() []router.Command {
	return []router.Command{{Name: p.name + "cmd", Handle: func(context.Context, *router.Request) error { return nil }}}
}

func TestManagerLifecycleOrder(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventStarted, EventStopped)
	defer unsub()

	m := NewManager(logx.Nop(), bus)
	m.Register(
		&fakePlugin{name: "a", rec: rec},
		&fakePlugin{name: "b", rec: rec},
		&fakePlugin{name: "a", rec: rec},
	)
	ctx := context.Background()
	if err := m.InitAll(ctx, Deps{}); err != nil {
		t.Fatalf("InitAll() = %v", err)
	}
	m.StartAll(ctx, time.Second)
	m.StopAll(ctx)

	if got, want := rec.String(), "init:a,init:b,start:a,start:b,stop:b,stop:a"; got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
	n := 0
	for len(events) > 0 {
		<-events
		n++
	}
	if n != 4 {
		t.Fatalf("events = %d, want 4", n)
	}
}

func TestManagerCommandsStamped(t *testing.T) {
	t.Parallel()
	m := NewManager(logx.Nop(), nil)
	m.Register(&fakePlugin{name: "x", rec: &recorder{}}, &fakePlugin{name: "y", rec: &recorder{}})
	cmds := m.Commands()
	if len(cmds) != 2 {
		t.Fatalf("Commands() len = %d, want 2", len(cmds))
	}
	if cmds[0].Name != "xcmd" || cmds[0].Plugin != "x" || cmds[1].Plugin != "y" {
		t.Fatalf("Commands() = %+v", cmds)
	}
}

func TestManagerFailedStartIsNotStopped(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	m := NewManager(logx.Nop(), nil)
	m.Register(
		&fakePlugin{name: "bad", rec: rec, startErr: errors.New("nope")},
		&fakePlugin{name: "panics", rec: rec, startPanic: true},
		&fakePlugin{name: "good", rec: rec},
	)
	ctx := context.Background()
	if err := m.InitAll(ctx, Deps{}); err != nil {
		t.Fatalf("InitAll() = %v", err)
	}
	m.StartAll(ctx, time.Second)
	m.StopAll(ctx)
	if got, want := rec.String(), "init:bad,init:panics,init:good,start:good,stop:good"; got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
	health := strings.Join(m.Health(), ";")
	if !strings.Contains(health, "bad: not_started") || !strings.Contains(health, "good: stopped") {
		t.Fatalf("Health() = %s", health)
	}
}

func TestBaseScheduleNamespacedAndRemoved(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(scheduler.Config{Location: time.UTC}, logx.Nop(), nil)
	p := &fakePlugin{name: "birthdays", rec: &recorder{}, schedule: "1m"}
	m := NewManager(logx.Nop(), nil)
	m.Register(p)
	ctx := context.Background()
	if err := m.InitAll(ctx, Deps{Scheduler: sched}); err != nil {
		t.Fatalf("InitAll() = %v", err)
	}
	m.StartAll(ctx, time.Second)

	snap := sched.Snapshot()
	if len(snap) != 1 || snap[0].Name != "birthdays:tick" || snap[0].Spec != "@every 1m0s" {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	m.StopAll(ctx)
	if snap := sched.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot() after stop = %+v, want empty", snap)
	}
}

func TestBaseScheduleWithoutScheduler(t *testing.T) {
	t.Parallel()
	var b Base
	b.InitBase(Deps{}, "p")
	if _, err := b.Schedule("x", "1m", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("Schedule() without scheduler should fail")
	}
}
