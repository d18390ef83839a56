package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mailagent/internal/campaign"
	"mailagent/internal/eventbus"
	"mailagent/internal/workflow/jobstore"
	logx "mailagent/pkg/logx"
)

// ErrNoStages means the request's workflow plan had no stage with a trigger
// time set.
var ErrNoStages = errors.New("scheduler: workflow plan has no stages")

// Schedule registers (or replaces) the campaign and arms one job per stage
// that has a trigger time. Re-scheduling an existing campaign replaces its
// jobs wholesale: stages dropped from the plan are disarmed, stages kept are
// re-armed at the new time.
//
// A stage whose job cannot be persisted does not abort the remaining stages;
// Schedule fails only when the registry write fails or no stage could be
// armed at all.
func (e *Engine) Schedule(ctx context.Context, req ScheduleRequest) (*campaign.Campaign, error) {
	if req.CampaignName == "" {
		return nil, errors.New("scheduler: campaign name required")
	}

	now := time.Now()
	c := &campaign.Campaign{
		Name:        req.CampaignName,
		Title:       req.Title,
		Description: req.Description,
		Status:      campaign.StatusScheduled,
		Plan:        req.Plan,
		Targets:     req.Targets,
		Segments:    append([]string(nil), req.Segments...),
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.registry.Upsert(ctx, c); err != nil {
		return nil, err
	}

	var armErrs []error
	armed := 0
	e.mu.Lock()
	// Disarm stages no longer in the plan.
	for _, st := range campaign.Stages() {
		id := jobstore.ID(req.CampaignName, st)
		if req.Plan.At(st) != nil {
			continue
		}
		if _, ok := e.jobs[id]; ok {
			e.removeLocked(id)
			e.removeStoreLocked(ctx, id)
		}
	}
	for _, st := range campaign.Stages() {
		at := req.Plan.At(st)
		if at == nil {
			continue
		}
		j := jobstore.Job{
			ID:          jobstore.ID(req.CampaignName, st),
			Campaign:    req.CampaignName,
			Stage:       st,
			TriggerTime: *at,
			Segments:    append([]string(nil), req.Segments...),
		}
		if err := e.store.Upsert(ctx, j); err != nil {
			armErrs = append(armErrs, fmt.Errorf("%s: %w", st, err))
			continue
		}
		e.armLocked(j)
		armed++
	}
	e.mu.Unlock()

	if armed == 0 {
		if len(armErrs) > 0 {
			return nil, fmt.Errorf("scheduler: no stage could be armed: %w", errors.Join(armErrs...))
		}
		return nil, ErrNoStages
	}
	if len(armErrs) > 0 {
		// Partial success still schedules the campaign; the armed stages
		// will fire and the failures are surfaced here.
		e.log.Warn("some stages failed to arm",
			logx.String("campaign", req.CampaignName),
			logx.Int("armed", armed),
			logx.Err(errors.Join(armErrs...)))
	}
	e.log.Info("campaign scheduled",
		logx.String("campaign", req.CampaignName),
		logx.Int("jobs", armed))
	return c, nil
}

// Pause suspends every pending job of the campaign. Trigger times are kept:
// a job whose time passes while paused fires immediately on Resume.
func (e *Engine) Pause(ctx context.Context, name string) error {
	if err := e.registry.SetStatus(ctx, name, campaign.StatusPaused); err != nil {
		return err
	}
	e.mu.Lock()
	n := 0
	for id, j := range e.jobs {
		if j.Campaign != name || j.Paused {
			continue
		}
		if t, ok := e.timers[id]; ok {
			t.Stop()
			delete(e.timers, id)
		}
		e.ver[id]++
		j.Paused = true
		e.jobs[id] = j
		if err := e.store.Upsert(ctx, j); err != nil {
			e.log.Warn("job store upsert failed on pause", logx.String("job", id), logx.Err(err))
		}
		n++
	}
	e.mu.Unlock()
	e.log.Info("campaign paused", logx.String("campaign", name), logx.Int("jobs", n))
	return nil
}

// Resume re-arms every paused job of the campaign at its original trigger
// time. Past-due jobs fire immediately.
func (e *Engine) Resume(ctx context.Context, name string) error {
	if err := e.registry.SetStatus(ctx, name, campaign.StatusActive); err != nil {
		return err
	}
	e.mu.Lock()
	n := 0
	for id, j := range e.jobs {
		if j.Campaign != name || !j.Paused {
			continue
		}
		j.Paused = false
		if err := e.store.Upsert(ctx, j); err != nil {
			e.log.Warn("job store upsert failed on resume", logx.String("job", id), logx.Err(err))
		}
		e.armLocked(j)
		n++
	}
	e.mu.Unlock()
	e.log.Info("campaign resumed", logx.String("campaign", name), logx.Int("jobs", n))
	return nil
}

// Cancel disarms and removes every pending job of the campaign and marks it
// cancelled. Already-dispatched stages are unaffected.
func (e *Engine) Cancel(ctx context.Context, name string) error {
	if err := e.registry.SetStatus(ctx, name, campaign.StatusCancelled); err != nil {
		return err
	}
	e.mu.Lock()
	var ids []string
	for id, j := range e.jobs {
		if j.Campaign == name {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		e.removeLocked(id)
		e.removeStoreLocked(ctx, id)
	}
	e.mu.Unlock()
	e.log.Info("campaign cancelled", logx.String("campaign", name), logx.Int("jobs", len(ids)))
	return nil
}

// NextTrigger reports the earliest pending, non-paused trigger time for the
// campaign. ok is false when nothing is pending.
func (e *Engine) NextTrigger(name string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var next time.Time
	found := false
	for _, j := range e.jobs {
		if j.Campaign != name || j.Paused {
			continue
		}
		if !found || j.TriggerTime.Before(next) {
			next = j.TriggerTime
			found = true
		}
	}
	return next, found
}

// Jobs lists the campaign's pending jobs, earliest first.
func (e *Engine) Jobs(name string) []JobInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []JobInfo
	for _, j := range e.jobs {
		if j.Campaign != name {
			continue
		}
		out = append(out, JobInfo{
			ID:          j.ID,
			Campaign:    j.Campaign,
			Stage:       j.Stage,
			TriggerTime: j.TriggerTime,
			Paused:      j.Paused,
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].TriggerTime.Equal(out[k].TriggerTime) {
			return out[i].TriggerTime.Before(out[k].TriggerTime)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// armLocked records the job and arms its timer. Caller holds e.mu. A job
// whose trigger time already passed fires immediately rather than being
// dropped. Paused jobs are tracked but get no timer.
func (e *Engine) armLocked(j jobstore.Job) {
	if t, ok := e.timers[j.ID]; ok {
		t.Stop()
		delete(e.timers, j.ID)
	}
	e.ver[j.ID]++
	e.jobs[j.ID] = j
	// A fresh arm supersedes any pending tombstone for this id.
	delete(e.fired, j.ID)
	if j.Paused || !e.started {
		return
	}
	delay := time.Until(j.TriggerTime)
	if delay < 0 {
		delay = 0
	}
	id, ver := j.ID, e.ver[j.ID]
	e.timers[id] = time.AfterFunc(delay, func() { e.fire(id, ver) })
	e.log.Debug("job armed",
		logx.String("job", id),
		logx.Time("trigger", j.TriggerTime.In(e.loc)),
		logx.Duration("delay", delay))
}

// removeLocked drops the job from the in-memory maps and invalidates any
// in-flight timer callback. Caller holds e.mu.
func (e *Engine) removeLocked(id string) {
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	e.ver[id]++
	delete(e.jobs, id)
}

// removeStoreLocked deletes the job's store row. A failed delete leaves a
// tombstone so the resync sweep retries instead of re-arming the stale row.
// Caller holds e.mu.
func (e *Engine) removeStoreLocked(ctx context.Context, id string) {
	if err := e.store.Remove(ctx, id); err != nil {
		e.fired[id] = struct{}{}
		e.log.Warn("job store remove failed; will retry on resync",
			logx.String("job", id), logx.Err(err))
		return
	}
	delete(e.fired, id)
}

// fire is the timer callback. It re-checks the job under the lock: a stale
// version, a pause, or a removal since arming makes it a no-op. The store row
// is deleted before the lock is released so the resync sweep can never
// observe a fired job as pending.
func (e *Engine) fire(id string, ver uint64) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok || e.ver[id] != ver || j.Paused || !e.started {
		e.mu.Unlock()
		return
	}
	delete(e.jobs, id)
	delete(e.timers, id)
	e.ver[id]++
	e.removeStoreLocked(e.runCtx, id)
	queue := e.queue
	stopCh := e.stopCh
	e.mu.Unlock()

	e.publish(eventbus.TypeJobFired, JobEvent{ID: j.ID, Campaign: j.Campaign, Stage: j.Stage, Fired: time.Now()})

	// Block rather than drop when the pool is saturated; shutdown unblocks.
	select {
	case queue <- task{job: j}:
	case <-stopCh:
	}
}

// resync reconciles the store with memory. It re-arms store rows with no
// in-memory counterpart and re-persists in-memory jobs missing from the
// store. Rows tombstoned by a failed remove are reaped, never re-armed.
func (e *Engine) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	persisted, err := e.store.List(ctx)
	if err != nil {
		e.log.Warn("resync list failed", logx.Err(err))
		return
	}
	inStore := make(map[string]struct{}, len(persisted))

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	rearmed, reaped := 0, 0
	for _, j := range persisted {
		inStore[j.ID] = struct{}{}
		if _, dead := e.fired[j.ID]; dead {
			// Already fired or cancelled; the row outlived a failed
			// remove. Retry the delete, never re-arm.
			if err := e.store.Remove(ctx, j.ID); err != nil {
				e.log.Warn("resync remove retry failed", logx.String("job", j.ID), logx.Err(err))
				continue
			}
			delete(e.fired, j.ID)
			reaped++
			continue
		}
		if _, ok := e.jobs[j.ID]; ok {
			continue
		}
		e.armLocked(j)
		rearmed++
	}
	var missing []jobstore.Job
	for id, j := range e.jobs {
		if _, ok := inStore[id]; !ok {
			missing = append(missing, j)
		}
	}
	e.mu.Unlock()

	for _, j := range missing {
		if err := e.store.Upsert(ctx, j); err != nil {
			e.log.Warn("resync upsert failed", logx.String("job", j.ID), logx.Err(err))
		}
	}
	if rearmed > 0 || reaped > 0 || len(missing) > 0 {
		e.log.Info("resync applied",
			logx.Int("rearmed", rearmed),
			logx.Int("reaped", reaped),
			logx.Int("repersisted", len(missing)))
	}
}

// CampaignOf extracts the campaign name from a job id.
func CampaignOf(id string) string {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return id
	}
	// Stage names themselves contain underscores (thank_you, follow_up);
	// match against the known stage suffixes instead of the last separator.
	for _, st := range campaign.Stages() {
		suffix := "_" + string(st)
		if strings.HasSuffix(id, suffix) {
			return strings.TrimSuffix(id, suffix)
		}
	}
	return id[:i]
}
