package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"bongobot/internal/eventbus"
	logx "bongobot/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "0 9 * * *", "@hourly", "@every 1m"
//   - Interval duration: "1m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return fmt.Errorf("unsupported schedule kind")
	}
}

// AddCron registers job under name, replacing any schedule with that name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if job == nil {
		return fmt.Errorf("schedule %q: job is nil", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(d); err != nil {
		delete(s.defs, name)
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.Duration("timeout", timeout),
		logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %q: interval must be > 0", name)
	}
	return s.AddCron(name, "@every "+every.String(), timeout, job)
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// Remove unschedules name and reports whether it existed. A run already in
// flight finishes normally.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

// RunNow triggers name outside its schedule, honoring the overlap rule. It
// returns without waiting for the run.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d := s.defs[strings.TrimSpace(name)]
	started := s.c != nil
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	if !started {
		return errors.New("scheduler not started")
	}
	go s.run(d)
	return nil
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(d *scheduleDef) error {
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() { s.run(d) }))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// run executes one trigger of d. Overlapping triggers are skipped.
func (s *Service) run(d *scheduleDef) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("schedule trigger skipped; previous run still active", logx.String("schedule", d.name))
		s.publish(EventRunSkipped, d.name, nil)
		return
	}
	defer d.running.Store(false)

	s.mu.Lock()
	base := s.base
	if base == nil || base.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(base, d.timeout)
	defer cancel()

	start := time.Now()
	d.runs.Add(1)
	err := safeCall(ctx, d.job)
	took := time.Since(start)
	if err != nil {
		d.failed.Add(1)
		s.log.Warn("scheduled run failed",
			logx.String("schedule", d.name),
			logx.Duration("took", took),
			logx.Err(err))
		s.publish(EventRunFailed, d.name, err)
		return
	}
	s.log.Trace("scheduled run done", logx.String("schedule", d.name), logx.Duration("took", took))
}

func safeCall(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (s *Service) publish(typ, name string, err error) {
	if s.bus == nil {
		return
	}
	data := map[string]any{"schedule": name}
	if err != nil {
		data["error"] = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
