package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"modbot/internal/bot"
	"modbot/internal/broadcast"
	"modbot/internal/config"
	"modbot/internal/eventbus"
	"modbot/internal/moderation"
	"modbot/internal/runtime/supervisor"
	"modbot/internal/scheduler"
	kit "modbot/internal/transport"
	telegram "modbot/internal/transport/telegram/adapter"
	"modbot/internal/transport/telegram/router"
	logx "modbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter kit.Adapter
	sched   *scheduler.Service
	state   *moderation.State
	bcast   *broadcast.Service
	cmdm    *router.CommandManager

	updates chan kit.Update
}

// New loads the configuration and builds the Telegram-backed app. It fails
// when the token or the admin id is missing or malformed.
func New(cfgPath, envFile string) (*App, error) {
	cfgm := config.NewManager(cfgPath, envFile)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newApp(cfgm, cfg, ad), nil
}

func newApp(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) *App {
	logSvc, root := logx.NewService(cfg.Logging.LogConfig(), adminSender(ad), cfg.Telegram.AdminID)
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sched := scheduler.New(root.With(logx.String("comp", "scheduler")))
	state := moderation.NewState(sched, bus, root.With(logx.String("comp", "moderation")))
	bcast := broadcast.New(ad, bus, root.With(logx.String("comp", "broadcast")))

	handlers := &bot.Handlers{
		State:            state,
		Broadcast:        bcast,
		AdminID:          cfg.Telegram.AdminID,
		Sender:           ad,
		Log:              root.With(logx.String("comp", "bot")),
		BroadcastTimeout: config.DurationOr(cfg.Commands.BroadcastTimeout, 0),
	}
	cmdm := router.NewCommandManager(root.With(logx.String("comp", "commands")), ad, router.Options{
		AdminID:   cfg.Telegram.AdminID,
		DenyText:  bot.DenyText,
		Workers:   cfg.Commands.Workers,
		QueueSize: cfg.Commands.QueueSize,
	})
	cmdm.SetRoutes(handlers.Routes())

	return &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		sched:   sched,
		state:   state,
		bcast:   bcast,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
}

// State exposes the moderation registries.
func (a *App) State() *moderation.State { return a.state }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sched.Start(runCtx)
	a.applyReport(a.cfg.Report.Schedule)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", a.cmdm.UpdateMenu)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int64("admin_id", a.cfg.Telegram.AdminID), logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

// reloadLoop applies hot-reloaded config. Only logging and the report
// schedule are live; credential and command pool changes wait for a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					next = newer
				default:
					drained = true
				}
			}

			change := config.Diff(applied, next)
			if len(change.Sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}
			if change.RestartRequired {
				a.log.Warn("telegram or commands config changed; restart required for it to take effect")
			}
			a.logs.Apply(next.Logging.LogConfig())
			if strings.TrimSpace(next.Report.Schedule) != strings.TrimSpace(applied.Report.Schedule) {
				a.applyReport(next.Report.Schedule)
			}
			applied = next
			a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Fields...)...)
		}
	}
}

// Stop shuts everything down. Each step is bounded so one slow component
// cannot stall the rest. Pending ban expiries are dropped.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// adminSender routes admin-chat log lines through the adapter.
func adminSender(ad kit.Adapter) logx.SendFunc {
	return func(ctx context.Context, chatID int64, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	}
}
