package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bongobot/internal/birthday"
	"bongobot/internal/config"
	"bongobot/internal/eventbus"
	"bongobot/internal/plugin"
	"bongobot/internal/router"
	"bongobot/internal/runtime/supervisor"
	"bongobot/internal/storage"
	"bongobot/internal/task/scheduler"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

const (
	pluginStartTimeout = 10 * time.Second
	registerTimeout    = 30 * time.Second
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    sdNotifier

	adapter   kit.Adapter
	sched     *scheduler.Service
	birthdays *birthday.Service
	router    *router.Router
	pm        *plugin.Manager
	deps      plugin.Deps

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	table, err := cfg.Timetable()
	if err != nil {
		return nil, err
	}

	platform := kit.Platform(cfg.Transport.Platform)
	ad, err := newAdapter(cfg, root.With(logx.String("comp", string(platform))))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	announce := birthday.AnnouncerFunc(func(ctx context.Context, channelID, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: channelID}, text, &kit.SendOptions{Markdown: true, DisablePreview: true})
		return err
	})
	bsvc := birthday.NewService(store, announce, root.With(logx.String("comp", "birthday")), birthday.Options{
		Location:        loc,
		FallbackChannel: cfg.Birthdays.FallbackChannel,
		Limiter:         announceLimiter(cfg),
		Bus:             bus,
	})

	sched := scheduler.New(scheduler.Config{
		Location:       loc,
		DefaultTimeout: cfg.ScanTimeout(),
	}, root.With(logx.String("comp", "scheduler")), bus)

	rt := router.New(root.With(logx.String("comp", "router")), ad, router.Options{
		Owners:  cfg.Transport.OwnerUserIDs,
		Workers: cfg.Transport.Workers,
		Timeout: cfg.CommandTimeout(),
	})

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		sd:        sdNotifier{log: root.With(logx.String("comp", "systemd"))},
		adapter:   ad,
		sched:     sched,
		birthdays: bsvc,
		router:    rt,
		pm:        plugin.NewManager(root.With(logx.String("comp", "plugins")), bus),
		deps: plugin.Deps{
			Logger:       root,
			Platform:     platform,
			Bus:          bus,
			Scheduler:    sched,
			Birthdays:    bsvc,
			Timetable:    table,
			Location:     loc,
			TZName:       loc.String(),
			ScanTimeout:  cfg.ScanTimeout(),
			BirthdayPoll: cfg.Birthdays.Poll,
		},
		updates: make(chan kit.Update, 256),
	}
	log.Info("app configured",
		logx.String("platform", string(platform)),
		logx.String("tz", loc.String()),
		logx.Int("classes", len(table)),
	)
	return a, nil
}

// Register adds plugins. Call before Start.
func (a *App) Register(ps ...plugin.Plugin) { a.pm.Register(ps...) }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.pm.InitAll(runCtx, a.deps); err != nil {
		return err
	}
	a.router.SetCommands(a.pm.Commands())

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start %s adapter: %w", a.adapter.Platform(), err)
	}
	a.sched.Start(runCtx)
	a.pm.StartAll(runCtx, pluginStartTimeout)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if reg, ok := a.adapter.(kit.CommandRegistrar); ok {
		a.sup.Go0("commands.register", func(c context.Context) {
			rctx, cancel := context.WithTimeout(c, registerTimeout)
			defer cancel()
			if err := reg.RegisterCommands(rctx, a.router.Specs()); err != nil && c.Err() == nil {
				a.log.Warn("command registration failed", logx.Err(err))
			}
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.Ready()
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	a.log.Info("app started", logx.Int("commands", len(a.router.Specs())))
	return nil
}

// logEvent keeps frequent events at debug level and failures at warn.
func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type)}
	for k, v := range e.Data {
		fields = append(fields, logx.Any(k, v))
	}
	switch {
	case strings.HasSuffix(e.Type, "failed"):
		a.log.Warn("event", fields...)
	case e.Type == birthday.EventAnnounced:
		a.log.Info("event", fields...)
	default:
		a.log.Debug("event", fields...)
	}
}

func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	cur := a.cfgm.Get()
	if cur != nil && !strings.EqualFold(cur.Transport.Platform, cfg.Transport.Platform) {
		return errors.New("transport.platform cannot change while running")
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	// Each step is bounded so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
