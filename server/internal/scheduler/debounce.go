package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the persistence debounce interval.
const DefaultDelay = 15 * time.Second

// Task is the deferred work run by a Debouncer.
type Task func(ctx context.Context) error

// Debouncer is a single-slot cancellable deferred task.
type Debouncer struct {
	name  string
	delay time.Duration
	task  Task

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
	running sync.WaitGroup
	runs    uint64
}

// New creates a Debouncer that runs task delay after the last Trigger.
// name is used in log messages.
func New(name string, delay time.Duration, task Task) *Debouncer {
	return &Debouncer{name: name, delay: delay, task: task}
}

// Trigger arms the task, replacing any pending run. It is a no-op after Stop.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Pending reports whether a run is armed and has not started yet.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Runs returns how many times the task has started.
func (d *Debouncer) Runs() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// Stop cancels the pending run, waits for a run in progress to finish and
// disables further triggers. It reports whether a run was pending. Calling
// Stop more than once is safe.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	pending := d.timer != nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.stopped = true
	d.gen++
	d.mu.Unlock()

	d.running.Wait()
	return pending
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A newer Trigger or a Stop superseded this timer.
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.runs++
	d.running.Add(1)
	d.mu.Unlock()

	err := d.task(context.Background())
	d.running.Done()

	if err != nil {
		slog.Error("scheduler: deferred run failed, retrying next cycle",
			"task", d.name, "delay", d.delay, "err", err)
		d.Trigger()
	}
}
