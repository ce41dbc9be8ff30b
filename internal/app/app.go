// Package app wires the engine together: config, logging, bus, ledger,
// contacts, channel driver, campaign service, scheduler and the HTTP
// control surface.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"masivos/internal/campaign"
	"masivos/internal/channel"
	"masivos/internal/config"
	"masivos/internal/contacts"
	"masivos/internal/eventbus"
	"masivos/internal/ledger"
	"masivos/internal/report"
	"masivos/internal/scheduler"
	"masivos/internal/server"
	"masivos/internal/storage"
	logx "masivos/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	contacts *contacts.Store
	ledger   *ledger.Ledger
	reg      *campaign.Registry
	sim      *channel.Sim
	reports  *report.Generator
	history  storage.Store
	campaign *campaign.Service

	sched *scheduler.Service
	srv   *server.Server

	uploadsDir string
	reportsDir string

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

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	dirs := map[string]string{
		"uploads": filepath.Join(dataDir, "uploads"),
		"reports": filepath.Join(dataDir, "reports"),
		"media":   filepath.Join(dataDir, "media"),
		"ledger":  filepath.Join(dataDir, "ledger"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("app: create %s: %w", d, err)
		}
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Events: logx.EventsConfig{
			Enabled:    cfg.Logging.Events.Enabled,
			MinLevel:   cfg.Logging.Events.MinLevel,
			RatePerSec: cfg.Logging.Events.RatePerSec,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	logs.SetBus(bus)

	led, err := ledger.Open(dirs["ledger"], log.With(logx.String("comp", "ledger")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	reports, err := report.NewGenerator(dirs["reports"], log.With(logx.String("comp", "reports")))
	if err != nil {
		led.Close()
		logs.Close()
		return nil, err
	}

	history, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("comp", "history")))
	if err != nil {
		led.Close()
		logs.Close()
		return nil, err
	}

	driver := strings.TrimSpace(cfg.Channel.Driver)
	if driver != "" && driver != "sim" {
		led.Close()
		logs.Close()
		return nil, fmt.Errorf("app: unknown channel driver %q", driver)
	}
	sim := channel.NewSim(log.With(logx.String("comp", "channel")))

	store := contacts.NewStore()
	reg := campaign.NewRegistry(cfg.Accounts)

	svc := campaign.New(campaign.Deps{
		Log:      log.With(logx.String("comp", "campaign")),
		Bus:      bus,
		Contacts: store,
		Ledger:   led,
		Registry: reg,
		Channel:  sim,
		Reports:  reports,
		History:  history,
		MediaDir: dirs["media"],
	})
	svc.ApplyDefaults(campaignDefaults(cfg))

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		logs:       logs,
		log:        log,
		bus:        bus,
		contacts:   store,
		ledger:     led,
		reg:        reg,
		sim:        sim,
		reports:    reports,
		history:    history,
		campaign:   svc,
		uploadsDir: dirs["uploads"],
		reportsDir: dirs["reports"],
	}, nil
}

func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Campaign() *campaign.Service   { return a.campaign }
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(ctx)
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validate(c)
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	a.startReloadLoop()

	a.sched = scheduler.New(scheduler.Config{}, a.log.With(logx.String("comp", "scheduler")), a.bus,
		func(accountID string, opts campaign.Options) {
			a.campaign.StartRun(a.runCtx, accountID, opts)
		})
	a.sched.Start()
	applySchedules(a.sched, campaignDefaults(cfg), cfg.Campaign.Schedules,
		a.log.With(logx.String("comp", "scheduler")))

	a.sim.Start(a.runCtx, cfg.Accounts, a.campaign)

	a.srv = server.New(server.Deps{
		Log:        a.log.With(logx.String("comp", "http")),
		Bus:        a.bus,
		RunCtx:     a.runCtx,
		Contacts:   a.contacts,
		Campaign:   a.campaign,
		Scheduler:  a.sched,
		History:    a.history,
		UploadsDir: a.uploadsDir,
		ReportsDir: a.reportsDir,
	})
	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.Start(addr); err != nil {
			a.log.Error("http server failed", logx.Err(err))
			a.cancel()
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("engine started", logx.String("addr", addr), logx.Any("accounts", cfg.Accounts))
	return nil
}

// startReloadLoop applies config hot reloads: logging output swaps and
// new campaign defaults. Accounts, recurring schedules and the HTTP
// address are boot-time only.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-a.runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
					Events: logx.EventsConfig{
						Enabled:    cfg.Logging.Events.Enabled,
						MinLevel:   cfg.Logging.Events.MinLevel,
						RatePerSec: cfg.Logging.Events.RatePerSec,
					},
				})
				a.campaign.ApplyDefaults(campaignDefaults(cfg))
				a.log.Info("config reloaded")
			}
		}
	}()
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.campaign.StopAll()
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.srv != nil {
		shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.srv.Shutdown(shutCtx)
		cancel()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.campaign.Wait()
	a.wg.Wait()

	if a.history != nil {
		_ = a.history.Close()
	}
	a.ledger.Close()
	a.log.Info("engine stopped")
	return a.logs.Close()
}

func validate(c *config.Config) error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts must not be empty")
	}
	if _, err := config.Duration("campaign.delay_after", c.Campaign.DelayAfter); err != nil {
		return err
	}
	if _, err := config.Duration("campaign.delay_between", c.Campaign.DelayBetween); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := config.Duration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if d := strings.TrimSpace(c.Channel.Driver); d != "" && d != "sim" {
		return fmt.Errorf("channel.driver: unknown driver %q", d)
	}
	for i, sc := range c.Campaign.Schedules {
		if strings.TrimSpace(sc.Account) == "" {
			return fmt.Errorf("campaign.schedules[%d]: account must not be empty", i)
		}
		if err := scheduler.ValidateSpec(sc.Cron); err != nil {
			return fmt.Errorf("campaign.schedules[%d]: %w", i, err)
		}
	}
	return nil
}

// applySchedules arms the config-declared recurring runs. Schedules
// are boot-time only; a rejected entry is logged and skipped so one
// bad line does not take the rest down.
func applySchedules(sched *scheduler.Service, defaults campaign.Options, entries []config.ScheduleConfig, log logx.Logger) {
	for _, e := range entries {
		opts := defaults
		if e.Mode == "attachments" {
			opts.ContentMode = campaign.ContentAttachments
		}
		if _, err := sched.AddCron(e.Cron, e.Account, opts); err != nil {
			log.Error("recurring schedule rejected",
				logx.String("account", e.Account), logx.String("cron", e.Cron), logx.Err(err))
		}
	}
}

func campaignDefaults(cfg *config.Config) campaign.Options {
	after, _ := config.DurationOr("campaign.delay_after", cfg.Campaign.DelayAfter, 1500*time.Millisecond)
	between, _ := config.DurationOr("campaign.delay_between", cfg.Campaign.DelayBetween, 2500*time.Millisecond)
	return campaign.Options{
		CountryCode:  cfg.Campaign.CountryCode,
		DelayAfter:   after,
		DelayBetween: between,
		ContentMode:  campaign.ContentText,
	}
}

func storageConfig(sc *config.StorageConfig) storage.Config {
	if sc == nil {
		return storage.Config{}
	}
	busy, _ := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}
}
