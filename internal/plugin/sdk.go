package plugin

import (
	"context"
	"errors"
	"time"

	"bongobot/internal/birthday"
	"bongobot/internal/eventbus"
	"bongobot/internal/router"
	rtsup "bongobot/internal/runtime/supervisor"
	"bongobot/internal/task/scheduler"
	"bongobot/internal/timetable"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

// Plugin contributes commands and optional background work.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

// Deps are the shared services handed to every plugin.
type Deps struct {
	Logger    logx.Logger
	Platform  kit.Platform
	Bus       eventbus.Bus
	Scheduler *scheduler.Service
	Birthdays *birthday.Service

	Timetable timetable.Table
	// Location is the configured civil timezone; TZName is how replies label it.
	Location *time.Location
	TZName   string
	// ScanTimeout bounds one birthday scan.
	ScanTimeout time.Duration
	// BirthdayPoll is the scan schedule string ("1m", "@every 1m", cron).
	BirthdayPoll string

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Base is a small helper for writing plugins.
// Typical usage:
//
//	type Plugin struct { plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type Base struct {
	Log    logx.Logger
	Deps   Deps
	Runner *rtsup.Supervisor

	pluginName string
	schedules  []string
	ctx        context.Context
}

// InitBase wires deps and a plugin-scoped logger.
func (b *Base) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	if deps.Logger.IsZero() {
		b.Log = logx.Nop().With(logx.String("plugin", pluginName))
	} else {
		b.Log = deps.Logger.With(logx.String("plugin", pluginName))
	}
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *Base) StartBase(ctx context.Context) {
	b.Runner = rtsup.New(ctx, rtsup.WithLogger(b.Log), rtsup.WithCancelOnError(false))
	b.ctx = b.Runner.Context()
}

// StopBase removes the plugin's schedules, cancels the runner and waits
// bounded by ctx.
func (b *Base) StopBase(ctx context.Context) error {
	if b.Deps.Scheduler != nil {
		for _, name := range b.schedules {
			b.Deps.Scheduler.Remove(name)
		}
	}
	b.schedules = nil
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Context returns the plugin runtime context (canceled on stop).
func (b *Base) Context() context.Context { return b.ctx }

// Health reports "ok" while started. It never blocks.
func (b *Base) Health() (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

// Now returns the current time from the injected clock.
func (b *Base) Now() time.Time {
	if b.Deps.Now != nil {
		return b.Deps.Now()
	}
	return time.Now()
}

// Schedule registers a job namespaced by plugin ("plugin:name"). The job is
// removed again by StopBase.
func (b *Base) Schedule(name, schedule string, timeout time.Duration, job scheduler.Job) (string, error) {
	if b.Deps.Scheduler == nil {
		return "", errors.New("scheduler not available")
	}
	full := b.ns(name)
	if err := b.Deps.Scheduler.AddSchedule(full, schedule, timeout, job); err != nil {
		return "", err
	}
	b.schedules = append(b.schedules, full)
	return full, nil
}

func (b *Base) ns(name string) string {
	if b.pluginName == "" {
		return name
	}
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

// PublishEvent publishes to the in-process event bus when present.
func (b *Base) PublishEvent(typ string, data map[string]any) {
	if b.Deps.Bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["plugin"] = b.pluginName
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
