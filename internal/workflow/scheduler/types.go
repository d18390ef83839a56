package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mailagent/internal/campaign"
	"mailagent/internal/eventbus"
	"mailagent/internal/workflow/jobstore"
	logx "mailagent/pkg/logx"
)

// Dispatch is the callback a fired job runs. Implementations must be safe to
// call concurrently for distinct jobs; errors are logged and recorded, never
// propagated back into the engine.
type Dispatch func(ctx context.Context, campaignName string, stage campaign.Stage, segments []string) error

// Config controls the engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 16
//   - queue_size: 256
//   - resync_interval: 1m
type Config struct {
	Workers        int
	QueueSize      int
	ResyncInterval time.Duration
	Timezone       string // IANA TZ, used for trigger-time log fields
}

// ScheduleRequest is one campaign workflow to (re-)schedule.
type ScheduleRequest struct {
	CampaignName string
	Title        string
	Description  string
	Plan         campaign.WorkflowPlan
	Targets      campaign.Targets
	Segments     []string
	CreatedBy    string
}

// Deps are the engine's collaborators, injected at construction. The engine
// is an explicit instance: build it once per process and hand it to whatever
// surface needs it.
type Deps struct {
	Registry campaign.Registry
	Store    jobstore.Store
	Dispatch Dispatch
	Bus      eventbus.Bus
	Log      logx.Logger
}

// JobEvent is the payload published on the event bus for job lifecycle
// events.
type JobEvent struct {
	ID       string
	Campaign string
	Stage    campaign.Stage
	Fired    time.Time
	Duration time.Duration
	Error    string
}

// JobInfo is a read-only view of one scheduled job.
type JobInfo struct {
	ID          string
	Campaign    string
	Stage       campaign.Stage
	TriggerTime time.Time
	Paused      bool
}

// Snapshot is a point-in-time diagnostic view of the engine.
type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int
	Jobs     []JobInfo
}

type task struct {
	job jobstore.Job
}

// Engine is the campaign workflow scheduler.
type Engine struct {
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	registry campaign.Registry
	store    jobstore.Store
	dispatch Dispatch
	loc      *time.Location

	mu     sync.Mutex
	jobs   map[string]jobstore.Job
	timers map[string]*time.Timer
	// ver invalidates stale timer callbacks: every arm/pause/remove bumps
	// the job's version, and a firing callback whose version no longer
	// matches is a no-op.
	ver map[string]uint64
	// fired holds ids whose store row outlived a failed remove after the
	// job was dispatched or cancelled. The resync sweep retries the remove
	// for these instead of re-arming them.
	fired   map[string]struct{}
	started bool

	c         *cron.Cron
	queue     chan task
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
