package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"bongobot/internal/eventbus"
	"bongobot/internal/router"
	logx "bongobot/pkg/logx"
)

const (
	EventStarted     = "plugin.started"
	EventStopped     = "plugin.stopped"
	EventStartFailed = "plugin.start_failed"
)

// HealthChecker is implemented by plugins embedding Base.
type HealthChecker interface {
	Health() (string, error)
}

// Manager owns the plugin lifecycle: Init once, Start, Stop in reverse order.
type Manager struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	order []string
	reg   map[string]Plugin
	run   map[string]bool
}

func NewManager(log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log: log,
		bus: bus,
		reg: map[string]Plugin{},
		run: map[string]bool{},
	}
}

// Register adds plugins. A second plugin with the same name is ignored.
func (m *Manager) Register(ps ...Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := m.reg[name]; dup {
			m.log.Warn("duplicate plugin ignored", logx.String("plugin", name))
			continue
		}
		m.reg[name] = p
		m.order = append(m.order, name)
	}
}

// InitAll initializes every plugin with deps. The first failure aborts.
func (m *Manager) InitAll(ctx context.Context, deps Deps) error {
	for _, name := range m.names() {
		p := m.get(name)
		if err := m.safeCall("plugin.init."+name, func() error { return p.Init(ctx, deps) }); err != nil {
			return fmt.Errorf("plugin %s: init: %w", name, err)
		}
	}
	return nil
}

// StartAll starts every plugin. A plugin whose Start fails is logged and left
// stopped; its commands are still served.
func (m *Manager) StartAll(ctx context.Context, timeout time.Duration) {
	for _, name := range m.names() {
		p := m.get(name)
		start := time.Now()
		err := m.startWithTimeout(ctx, name, p, timeout)
		if err != nil {
			m.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
			m.emit(EventStartFailed, name, map[string]any{"err": err.Error()})
			continue
		}
		m.mu.Lock()
		m.run[name] = true
		m.mu.Unlock()
		took := time.Since(start)
		m.log.Debug("plugin started", logx.String("plugin", name), logx.Duration("took", took))
		m.emit(EventStarted, name, map[string]any{"took_ms": took.Milliseconds()})
	}
}

func (m *Manager) startWithTimeout(ctx context.Context, name string, p Plugin, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- m.safeCall("plugin.start."+name, func() error { return p.Start(ctx) })
	}()
	if timeout <= 0 {
		return <-done
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return fmt.Errorf("start timeout (%s)", timeout)
	}
}

// StopAll stops running plugins in reverse registration order. A plugin that
// does not return before ctx expires is abandoned.
func (m *Manager) StopAll(ctx context.Context) {
	names := m.names()
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		m.mu.Lock()
		p, running := m.reg[name], m.run[name]
		m.run[name] = false
		m.mu.Unlock()
		if !running {
			continue
		}

		start := time.Now()
		done := make(chan error, 1)
		go func() {
			done <- m.safeCall("plugin.stop."+name, func() error { return p.Stop(ctx) })
		}()
		select {
		case err := <-done:
			if err != nil {
				m.log.Warn("plugin stop error", logx.String("plugin", name), logx.Err(err))
			}
		case <-ctx.Done():
			m.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(ctx.Err()))
		}
		m.emit(EventStopped, name, map[string]any{"took_ms": time.Since(start).Milliseconds()})
	}
}

// Commands collects every plugin's commands, stamped with the plugin name.
func (m *Manager) Commands() []router.Command {
	var out []router.Command
	for _, name := range m.names() {
		for _, c := range m.safeCommands(name, m.get(name)) {
			c.Plugin = name
			out = append(out, c)
		}
	}
	return out
}

// Health reports each plugin's status, sorted by name.
func (m *Manager) Health() []string {
	var out []string
	for _, name := range m.names() {
		p := m.get(name)
		status := "ok"
		if hc, ok := p.(HealthChecker); ok {
			s, err := hc.Health()
			status = s
			if err != nil {
				status += " (" + err.Error() + ")"
			}
		}
		out = append(out, name+": "+status)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) get(name string) Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg[name]
}

func (m *Manager) emit(typ, name string, data map[string]any) {
	if m.bus == nil {
		return
	}
	data["plugin"] = name
	m.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (m *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (m *Manager) safeCommands(name string, p Plugin) (out []router.Command) {
	if p == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in plugin Commands()",
				logx.String("plugin", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			out = nil
		}
	}()
	return p.Commands()
}
