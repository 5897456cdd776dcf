package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/debug"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/services/reminders"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.Store
	adapter kit.Adapter
	sched   *scheduler.Service
	notif   *notifier.Service
	svc     *reminders.Service
	router  *router.Router
	debug   *debug.Server

	updates chan kit.Update
}

// Status is served on /statusz.
type Status struct {
	Reminders     reminders.Status `json:"reminders"`
	Delivery      notifier.Stats   `json:"delivery"`
	EventsDropped uint64           `json:"events_dropped"`
	UpdateDrops   uint64           `json:"updates_dropped"`
	LogDrops      uint64           `json:"ops_log_dropped"`
	Goroutines    []rtsup.Stats    `json:"goroutines"`
}

// New loads the config at cfgPath and connects to Telegram.
func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(mapAdapterConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, ad)
}

// build wires every component around an already connected adapter.
func build(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	// The ops sink sends through the notifier, which needs a logger first.
	var opsSender atomic.Pointer[notifier.Service]
	logSvc, root := logx.New(mapLogConfig(cfg), func(ctx context.Context, chatID int64, text string) error {
		n := opsSender.Load()
		if n == nil {
			return nil
		}
		return n.SendOps(ctx, chatID, text)
	})
	log := root.With(logx.String("comp", "app"))

	rc, err := mapRemindersConfig(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(mapStorageConfig(cfg), root)
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	store := storage.NewStore(backend, root)
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	bus := eventbus.New()
	sched := scheduler.New(root, scheduler.WithLocation(rc.Location))

	var svc *reminders.Service
	notif := notifier.New(mapNotifierConfig(cfg), ad, func(r reminder.Reminder) (string, *kit.SendOptions) {
		return router.NotificationView(r, svc.Location(), svc.PostponeOptions())
	}, root)
	opsSender.Store(notif)

	svc = reminders.New(rc, store, sched, notif, root, reminders.WithBus(bus))
	rt := router.New(mapRouterConfig(cfg), ad, svc, root)

	cfgm.SetLogger(root)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   sched,
		notif:   notif,
		svc:     svc,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}
	a.debug = debug.New(mapDebugConfig(cfg), func() any { return a.Status() }, root)
	return a, nil
}

func (a *App) Status() Status {
	st := Status{
		Reminders:     a.svc.Status(),
		Delivery:      a.notif.Stats(),
		EventsDropped: a.bus.Dropped(),
		UpdateDrops:   a.router.Dropped(),
		LogDrops:      a.logs.Dropped(),
	}
	if a.sup != nil {
		st.Goroutines = append(st.Goroutines, a.sup.Snapshot()...)
	}
	if sup := a.router.Supervisor(); sup != nil {
		st.Goroutines = append(st.Goroutines, sup.Snapshot()...)
	}
	return st
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) runContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

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
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("user", e.UserID),
					logx.String("id", e.ReminderID),
				)
			}
		}
	})

	if err := a.svc.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.router.PublishCommands(menuCtx); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}
	cancel()

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// The debug endpoint is optional; a bind failure must not stop the bot.
	if err := a.debug.Start(a.sup.Context()); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	a.log.Info("app started")
	return nil
}

// applyConfig pushes the settings that can change at runtime. Storage,
// timezone, sweep and Telegram connection settings need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.Summarize(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)
	for _, key := range ch.RestartRequired {
		a.log.Warn("config changed; restart required for it to take effect", logx.String("key", key))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.router.SetAllowed(newCfg.Telegram.AllowedUserIDs)
	a.notif.Apply(mapNotifierConfig(newCfg))
	if rc, err := mapRemindersConfig(newCfg); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.svc.Apply(rc)
	}
	if err := a.debug.Reconfigure(a.runContext(), mapDebugConfig(newCfg)); err != nil {
		a.log.Warn("debug server not restarted", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		// Respect the caller's deadline; never extend it.
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
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
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Timers first, then in-flight deliveries, then the transport they use.
	step("debug", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("reminders", 3*time.Second, func(c context.Context) error { a.svc.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	st := a.notif.Stats()
	a.log.Info("stopped",
		logx.Uint64("delivered", st.Sent),
		logx.Uint64("delivery_failed", st.Failed),
		logx.Uint64("events_dropped", a.bus.Dropped()),
		logx.Uint64("updates_dropped", a.router.Dropped()),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
