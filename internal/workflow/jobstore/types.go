package jobstore

import (
	"context"
	"time"

	"mailagent/internal/campaign"
)

// Job is one scheduled stage trigger. The ID is the deterministic composite
// of campaign name and stage, so re-scheduling the same stage replaces the
// previous trigger instead of duplicating it.
type Job struct {
	ID          string
	Campaign    string
	Stage       campaign.Stage
	TriggerTime time.Time
	Paused      bool
	Segments    []string
}

// ID builds the composite job id for a (campaign, stage) pair.
func ID(campaignName string, stage campaign.Stage) string {
	return campaignName + "_" + string(stage)
}

// Config selects and parameterizes the driver.
type Config struct {
	Driver      string // "sqlite" or "memory"
	Path        string
	BusyTimeout time.Duration
}

// Store is the persistence contract the engine drives. The store is passive:
// it never fires anything itself.
type Store interface {
	Upsert(ctx context.Context, j Job) error
	List(ctx context.Context) ([]Job, error)
	Remove(ctx context.Context, id string) error
	Close() error
}
