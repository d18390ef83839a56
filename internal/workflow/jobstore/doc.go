// Package jobstore persists the scheduler's one-shot triggers.
//
// Two drivers expose identical upsert/list/remove behavior so the engine is
// backend-agnostic:
//   - sqlite: durable; scheduled triggers survive a process restart
//   - memory: volatile in-process map
//
// The driver is selected deterministically from config at construction time.
// If the durable driver cannot be opened, Open logs a warning and hands back
// the volatile store instead of failing: losing future triggers is preferable
// to refusing to start, and the campaign records themselves live elsewhere.
package jobstore
