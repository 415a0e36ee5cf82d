// Package scheduler runs named one-shot timers and cron schedules.
//
// One-shot tasks are keyed by name: adding a task under an existing name
// replaces it, and Remove cancels it before it fires. A callback from a
// replaced or removed timer is ignored even if it already started waiting
// on the lock.
package scheduler
