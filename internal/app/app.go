// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/delivery"
	"notifyd/internal/delivery/telegram"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *notify.Registry
	deliver  *delivery.Service
	disp     *dispatch.Service

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	registry := notify.NewRegistry(store, logSvc.Logger().With(logx.String("comp", "registry")))

	// Sinks: structured log always, Telegram when configured.
	sinks := []delivery.Sink{delivery.NewLogSink(logSvc.Logger().With(logx.String("comp", "sink.log")))}
	if cfg.Telegram != nil {
		tg, err := telegram.New(telegram.Config{
			Token:          cfg.Telegram.Token,
			ChatID:         cfg.Telegram.ChatID,
			ThreadID:       cfg.Telegram.ThreadID,
			ParseMode:      cfg.Telegram.ParseMode,
			DisablePreview: cfg.Telegram.DisablePreview,
		}, logSvc.Logger().With(logx.String("comp", "sink.telegram")))
		if err != nil {
			// A broken sink config should not keep reminders from firing.
			log.Warn("telegram sink unavailable", logx.Err(err))
		} else {
			sinks = append(sinks, tg)
			log.Info("telegram sink enabled", logx.Int64("chat_id", cfg.Telegram.ChatID))
		}
	}

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	deliverSvc := delivery.New(dcfg, sinks, logSvc.Logger().With(logx.String("comp", "delivery")), bus)

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispSvc := dispatch.New(dispCfg, store, deliverSvc, logSvc.Logger().With(logx.String("comp", "dispatch")), bus)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		registry: registry,
		deliver:  deliverSvc,
		disp:     dispSvc,
	}, nil
}

// Registry exposes channel and action-type management.
func (a *App) Registry() *notify.Registry { return a.registry }

// Dispatch exposes schedule/cancel/pending operations.
func (a *App) Dispatch() *dispatch.Service { return a.disp }

// Delivery exposes the active set and delivery history.
func (a *App) Delivery() *delivery.Service { return a.deliver }

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDeliveryConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		for i := range cfg.Channels {
			if err := cfg.Channels[i].Validate(); err != nil {
				return fmt.Errorf("channels[%d]: %w", i, err)
			}
		}
		return nil
	})

	if err := a.registry.Load(a.runCtx); err != nil {
		return err
	}
	if err := a.seedChannels(a.runCtx, a.cfgm.Get()); err != nil {
		return err
	}

	if a.deliver.Enabled() {
		a.deliver.Start(a.runCtx)
	}
	if err := a.disp.Start(a.runCtx); err != nil {
		return err
	}

	// Lifecycle events at debug level for operator visibility.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-a.runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", string(e.Type)),
					logx.Int("id", int(e.ID)),
					logx.String("detail", e.Detail))
			}
		}
	}()

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-a.runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(a.runCtx)
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) seedChannels(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	for _, ch := range cfg.Channels {
		if err := a.registry.CreateChannel(ctx, ch); err != nil {
			return fmt.Errorf("seed channel %q: %w", ch.ID, err)
		}
	}
	return nil
}

func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "dispatch":
			dc, err := mapDispatchConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
				continue
			}
			a.disp.Apply(dc)
		case "delivery":
			prevEnabled := a.deliver.Enabled()
			dc, err := mapDeliveryConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
				continue
			}
			a.deliver.Apply(dc)
			if prevEnabled && !dc.Enabled {
				a.log.Info("delivery disabled via config")
				stopCtx, cancel := context.WithTimeout(a.runCtx, 3*time.Second)
				a.deliver.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && dc.Enabled {
				a.log.Info("delivery enabled via config")
				a.deliver.Start(a.runCtx)
			}
		case "channels":
			if err := a.seedChannels(a.runCtx, newCfg); err != nil {
				a.log.Warn("channel seed failed", logx.Err(err))
			}
		case "storage", "telegram":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping")
	a.cancel()

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Dispatch first so no new fires enter delivery, then drain delivery.
	step("dispatch", 2*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("delivery", 3*time.Second, func(c context.Context) error { a.deliver.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Background loops (config watch/reload, event log).
	waitDone := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
