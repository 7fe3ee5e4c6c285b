// Package scheduler coalesces bursts of mutations into a single deferred
// write-back.
//
// A Debouncer holds at most one pending task. Trigger (re)arms it: any task
// already waiting is cancelled and replaced, so the task runs once, delay
// after the last Trigger. A failed run is logged and re-armed for the next
// cycle. Stop cancels the pending task, waits for a run in progress and
// disables the Debouncer; callers then perform their own final flush.
package scheduler
