// Package scheduler owns the campaign workflow engine: the background
// dispatcher that fires one job per (campaign, stage) at its planned
// timestamp.
//
// # Scheduling model
//
// Every job is a one-shot trigger keyed by "{campaign}_{stage}". Scheduling
// the same stage again replaces the previous trigger (last call wins); a job
// is removed once it fires. Triggers whose timestamp is already in the past
// fire immediately ("catch-up") rather than being dropped, both on Schedule
// and when re-arming persisted jobs at Start.
//
// # Execution
//
// Fired jobs run the dispatch callback on a bounded worker pool. Jobs queued
// beyond the pool wait; they are never dropped. A panicking or failing
// dispatch is contained to its own job.
//
// # Pause/resume
//
// Pause and resume act on every job sharing the campaign prefix and preserve
// trigger timestamps. Job state is mutated under a single engine mutex and
// every armed timer carries a version, so a pause always wins a race against
// a concurrently elapsing timer.
package scheduler
