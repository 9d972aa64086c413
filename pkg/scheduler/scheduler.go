// Package scheduler generalizes the teacher's pkg/batch/scheduler.go ticker
// loop (interval timer, explicit stop channel, state guarded by a mutex)
// into a small reusable primitive used by every background task
// cmd/mediator starts: the alignment cycle, load monitor, heartbeat,
// challenge scan, peer discovery, work-claim and peer sweeps, and (through
// the cron loop) the deposit refund sweep. There is no settlement watcher
// or dispute freezer sweep task.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one unit of scheduled work. Errors are the task's own
// responsibility to log; Task must never panic the loop.
type Task func(ctx context.Context)

// Loop runs a Task on a fixed interval until stopped.
type Loop struct {
	mu      sync.Mutex
	name    string
	interval time.Duration
	task    Task
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *log.Logger
}

// NewLoop constructs an interval-driven loop. logger may be nil to use a
// component-tagged default.
func NewLoop(name string, interval time.Duration, task Task, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.New(log.Writer(), "["+name+"] ", log.LstdFlags)
	}
	return &Loop{name: name, interval: interval, task: task, logger: logger}
}

// Start begins the loop in a background goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.runOnceSafely(ctx)
		}
	}
}

func (l *Loop) runOnceSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("task panicked (recovered): %v", r)
		}
	}()
	l.task(ctx)
}

// Stop halts the loop and waits for the in-flight tick, if any, to return.
// Stop never blocks longer than maxWait.
func (l *Loop) Stop(maxWait time.Duration) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	select {
	case <-l.doneCh:
	case <-time.After(maxWait):
		l.logger.Printf("stop timed out after %s, abandoning in-flight tick", maxWait)
	}
}

// CronLoop runs a Task on an operator-supplied cron expression instead of a
// fixed interval, letting an operator retune background cadences (e.g. the
// deposit refund sweep) without a redeploy.
type CronLoop struct {
	cron *cron.Cron
}

// NewCronLoop parses expr (standard 5-field cron) and schedules task.
func NewCronLoop(expr string, task Task) (*CronLoop, error) {
	c := cron.New()
	ctx := context.Background()
	_, err := c.AddFunc(expr, func() { task(ctx) })
	if err != nil {
		return nil, err
	}
	return &CronLoop{cron: c}, nil
}

// Start begins the cron scheduler.
func (c *CronLoop) Start() { c.cron.Start() }

// Stop halts the cron scheduler, waiting for any running job to finish.
func (c *CronLoop) Stop() { <-c.cron.Stop().Done() }
