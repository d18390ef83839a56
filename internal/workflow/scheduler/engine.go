package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mailagent/internal/eventbus"
	"mailagent/internal/workflow/jobstore"
	logx "mailagent/pkg/logx"
)

func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = time.Minute
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:      cfg,
		log:      log.With(logx.String("component", "scheduler")),
		bus:      deps.Bus,
		registry: deps.Registry,
		store:    deps.Store,
		dispatch: deps.Dispatch,
		loc:      loadLocation(cfg.Timezone, log),
		jobs:     map[string]jobstore.Job{},
		timers:   map[string]*time.Timer{},
		ver:      map[string]uint64{},
		fired:    map[string]struct{}{},
	}
}

// Start arms timers for every persisted job and spins up the worker pool.
// Jobs whose trigger time already passed fire immediately (catch-up).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.queue = make(chan task, e.cfg.QueueSize)
	e.stopCh = make(chan struct{})
	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	runCtx := e.runCtx
	stopCh := e.stopCh
	queue := e.queue

	e.workerWG.Add(e.cfg.Workers)
	for i := 0; i < e.cfg.Workers; i++ {
		idx := i
		go func() {
			defer e.workerWG.Done()
			e.worker(runCtx, stopCh, queue, idx)
		}()
	}

	// Resync sweep: re-arm store entries that lost their timer and repair
	// store rows for jobs armed in memory (host suspend, clock jumps,
	// transient store errors at arm time).
	e.c = cron.New()
	_, _ = e.c.AddFunc(fmt.Sprintf("@every %s", e.cfg.ResyncInterval), e.resync)
	e.c.Start()
	e.mu.Unlock()

	// Re-arm persisted jobs (restart survival with the durable driver).
	jobs, err := e.store.List(ctx)
	if err != nil {
		e.log.Warn("job store list failed at start", logx.Err(err))
		jobs = nil
	}
	rearmed := 0
	e.mu.Lock()
	for _, j := range jobs {
		e.armLocked(j)
		rearmed++
	}
	e.mu.Unlock()

	e.log.Info("engine started",
		logx.Int("workers", e.cfg.Workers),
		logx.Int("queue_cap", e.cfg.QueueSize),
		logx.Int("rearmed_jobs", rearmed),
		logx.Duration("resync", e.cfg.ResyncInterval))
	return nil
}

// Stop halts the trigger loop and drains the worker pool. Job definitions
// stay in the store so a later Start (or a new process) re-arms them.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	if e.c != nil {
		cronStop := e.c.Stop()
		e.c = nil
		defer func() { <-cronStop.Done() }()
	}
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
		e.ver[id]++
	}
	stopCh := e.stopCh
	cancel := e.runCancel
	e.stopCh = nil
	e.runCancel = nil
	e.mu.Unlock()

	close(stopCh)
	cancel()

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
	case <-ctx.Done():
		e.log.Warn("engine stop timed out; workers finishing in background")
	}
}

func (e *Engine) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			e.execOne(ctx, t, idx)
		}
	}
}

func (e *Engine) execOne(ctx context.Context, t task, idx int) {
	j := t.job
	start := time.Now()
	log := e.log.With(
		logx.String("job", j.ID),
		logx.String("campaign", j.Campaign),
		logx.String("stage", string(j.Stage)),
		logx.Int("worker", idx),
	)
	log.Info("job dispatching", logx.Strings("segments", j.Segments))

	var err error
	// Contain dispatch panics: one bad job must not crash the engine or
	// kill a worker permanently.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("dispatch panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = e.dispatch(ctx, j.Campaign, j.Stage, j.Segments)
	}()

	dur := time.Since(start)
	ev := JobEvent{ID: j.ID, Campaign: j.Campaign, Stage: j.Stage, Fired: start, Duration: dur}
	if err != nil {
		ev.Error = err.Error()
		log.Warn("job dispatch failed", logx.Err(err), logx.Duration("dur", dur))
		e.publish(eventbus.TypeJobFailed, ev)
		return
	}
	log.Info("job completed", logx.Duration("dur", dur))
	e.publish(eventbus.TypeJobCompleted, ev)
}

func (e *Engine) publish(typ string, ev JobEvent) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// Snapshot reports the engine's current jobs and queue pressure.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{Workers: e.cfg.Workers}
	if e.queue != nil {
		s.QueueLen = len(e.queue)
		s.QueueCap = cap(e.queue)
	}
	for _, j := range e.jobs {
		s.Jobs = append(s.Jobs, JobInfo{
			ID:          j.ID,
			Campaign:    j.Campaign,
			Stage:       j.Stage,
			TriggerTime: j.TriggerTime,
			Paused:      j.Paused,
		})
	}
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
