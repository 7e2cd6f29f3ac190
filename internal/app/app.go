// Package app assembles the bridge: config, logging, pipeline, intake,
// heartbeat. It owns startup order, hot reload and shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"qqbridge/internal/config"
	"qqbridge/internal/dispatch"
	"qqbridge/internal/eventbus"
	"qqbridge/internal/gateway"
	"qqbridge/internal/heartbeat"
	"qqbridge/internal/intake"
	"qqbridge/internal/metrics"
	"qqbridge/internal/onebot"
	"qqbridge/internal/storage"
	"qqbridge/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store

	gateway *gateway.Gateway
	intake  *intake.Server
	beat    *heartbeat.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	m := metrics.New()

	var store storage.Store
	if cfg.Storage != nil {
		store, err = storage.Open(storage.Config{
			Driver:   cfg.Storage.Driver,
			Path:     cfg.Storage.Path,
			KeepLast: cfg.Storage.KeepLast,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
	}

	sender := dispatch.NewSender(nil, log.With(logx.String("comp", "sender")), bus, store, m)
	dispatcher := dispatch.New(sender, log.With(logx.String("comp", "dispatch")), m)
	gw := gateway.New(sender, dispatcher, bus, log.With(logx.String("comp", "gateway")), m)
	if err := gw.Apply(cfg.Bridge); err != nil {
		return nil, fmt.Errorf("bridge config: %w", err)
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		metrics: m,
		store:   store,
		gateway: gw,
	}

	if cfg.Intake.Enabled {
		a.intake = intake.New(cfg.Intake, gw, bus, log.With(logx.String("comp", "intake")), m)
	}
	if cfg.Heartbeat != nil && cfg.Heartbeat.Enabled {
		a.beat = heartbeat.New(*cfg.Heartbeat, gw, log.With(logx.String("comp", "heartbeat")))
	}
	return a, nil
}

// Gateway exposes the pipeline entry point for embedders.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	a.gateway.Start(runCtx)

	if a.intake != nil {
		if err := a.intake.Start(); err != nil {
			return err
		}
	}
	if a.beat != nil {
		if err := a.beat.Start(); err != nil {
			return err
		}
	}

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
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
				a.applyReload(newCfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watch failed", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

// applyReload propagates a validated config to the live components.
// Intake and storage changes need a restart; everything else is live.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLoggingConfig(cfg.Logging))

	if err := a.gateway.Apply(cfg.Bridge); err != nil {
		a.log.Warn("invalid bridge config, keeping previous", logx.Err(err))
	}

	if (a.intake != nil) != cfg.Intake.Enabled {
		a.log.Warn("intake enable/disable changed; restart required")
	}
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.cancel != nil {
		a.cancel()
	}

	if a.beat != nil {
		a.beat.Stop()
	}
	if a.intake != nil {
		if err := a.intake.Stop(ctx); err != nil {
			a.log.Warn("intake shutdown", logx.Err(err))
		}
	}
	a.gateway.Shutdown()

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.log.Warn("background loops did not unwind in time")
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// validateConfig rejects a bad hot reload before it is committed.
func validateConfig(cfg *config.Config) error {
	if cfg.Bridge.Enabled {
		if _, err := onebot.ParseDialect(cfg.Bridge.Dialect); err != nil {
			return err
		}
		if _, err := onebot.ParseTitleStyle(cfg.Bridge.TitleStyle); err != nil {
			return err
		}
	}
	if cfg.Heartbeat != nil && cfg.Heartbeat.Enabled && cfg.Heartbeat.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Heartbeat.Schedule); err != nil {
			return fmt.Errorf("heartbeat.schedule: %w", err)
		}
	}
	return nil
}

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	console := true
	if lc.Console != nil {
		console = *lc.Console
	}
	return logx.Config{
		Level:   lc.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}
