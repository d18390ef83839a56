// Package app wires the agent together: config, logging, stores, the
// scheduler engine, the send pipeline and the metrics aggregator, with
// config hot-reload and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mailagent/internal/campaign"
	"mailagent/internal/config"
	"mailagent/internal/contact"
	"mailagent/internal/content"
	"mailagent/internal/docstore"
	"mailagent/internal/eventbus"
	"mailagent/internal/mail"
	"mailagent/internal/observability/debugsrv"
	"mailagent/internal/runtime/supervisor"
	"mailagent/internal/workflow/jobstore"
	"mailagent/internal/workflow/metrics"
	"mailagent/internal/workflow/pipeline"
	"mailagent/internal/workflow/scheduler"
	logx "mailagent/pkg/logx"
)

const historySize = 128

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *docstore.Store
	jobs  jobstore.Store

	registry campaign.Registry
	logStore campaign.LogStore

	engine *scheduler.Engine
	agg    *metrics.Aggregator
	debug  *debugsrv.Service

	histMu  sync.Mutex
	history []eventbus.Event
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
	log = log.With(logx.String("component", "app"))
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
	}, nil
}

// Config returns the current committed config snapshot.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Engine() *scheduler.Engine    { return a.engine }
func (a *App) Metrics() *metrics.Aggregator { return a.agg }
func (a *App) Registry() campaign.Registry  { return a.registry }
func (a *App) Logs() campaign.LogStore      { return a.logStore }

// Done is closed when the supervisor context ends (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	store, err := docstore.Connect(ctx, cfg.DocStore, a.log.With(logx.String("component", "docstore")))
	if err != nil {
		return fmt.Errorf("docstore: %w", err)
	}
	a.store = store
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("docstore indexes: %w", err)
	}

	a.registry = campaign.NewRegistry(store, a.log)
	a.logStore = campaign.NewLogStore(store, a.log)
	directory := contact.NewDirectory(store)

	busyTimeout, err := config.ParseDurationField("jobstore.busy_timeout", cfg.JobStore.BusyTimeout)
	if err != nil {
		return err
	}
	jobs, err := jobstore.Open(jobstore.Config{
		Driver:      cfg.JobStore.Driver,
		Path:        cfg.JobStore.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("component", "jobstore")))
	if err != nil {
		return fmt.Errorf("jobstore: %w", err)
	}
	a.jobs = jobs

	pipe := pipeline.New(pipeline.Deps{
		Registry:  a.registry,
		Directory: directory,
		Generator: content.NewTemplateGenerator(),
		Transport: mail.NewSMTPTransport(cfg.SMTP, a.log),
		Logs:      a.logStore,
		Tone:      cfg.Content.Tone,
		Log:       a.log,
	})

	resync, err := config.ParseDurationField("engine.resync_interval", cfg.Engine.ResyncInterval)
	if err != nil {
		return err
	}
	a.engine = scheduler.New(scheduler.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		ResyncInterval: resync,
		Timezone:       cfg.Engine.Timezone,
	}, scheduler.Deps{
		Registry: a.registry,
		Store:    jobs,
		Dispatch: pipe.Run,
		Bus:      a.bus,
		Log:      a.log,
	})
	if err := a.engine.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	a.agg = metrics.NewAggregator(a.registry, a.logStore, a.engine.NextTrigger, a.log)

	a.debug = debugsrv.New(debugsrv.Config{
		Enabled: cfg.Debug.Enabled,
		Addr:    cfg.Debug.Addr,
		Token:   cfg.Debug.Token,
	}, a.engine, a.agg, a.log)
	if err := a.debug.Start(); err != nil {
		return fmt.Errorf("debugsrv: %w", err)
	}

	// Config hot-reload: the watcher survives transient fs errors; only
	// validated configs reach OnChange.
	a.cfgm.OnChange = a.applyConfig
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	// Job lifecycle history for the status surface.
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("events.history", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.record(ev)
			}
		}
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("agent started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig applies the hot-reloadable subset of a committed config.
// Engine pool sizing and store drivers are fixed at startup; changing them
// takes a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("config applied", logx.String("level", cfg.Logging.Level))
}

func (a *App) record(ev eventbus.Event) {
	a.histMu.Lock()
	a.history = append(a.history, ev)
	if len(a.history) > historySize {
		a.history = a.history[len(a.history)-historySize:]
	}
	a.histMu.Unlock()
}

// History returns the most recent job lifecycle events, oldest first.
func (a *App) History() []eventbus.Event {
	a.histMu.Lock()
	defer a.histMu.Unlock()
	out := make([]eventbus.Event, len(a.history))
	copy(out, a.history)
	return out
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.debug != nil {
		a.debug.Stop(ctx)
	}
	if a.engine != nil {
		a.engine.Stop(ctx)
	}
	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.store.Close(closeCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	a.log.Info("agent stopped")
	_ = a.logs.Close()
	return firstErr
}
