package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the background work run by a Coalescer.
type Task func(context.Context) error

// CoalescerConfig configures retry behaviour.
type CoalescerConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Coalescer runs a task in the background whenever it is triggered. Triggers
// that arrive while a run is already pending collapse into that run, so a
// burst of N triggers costs at most two executions.
type Coalescer struct {
	name string
	task Task

	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	pending chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewCoalescer builds a coalescer around task.
func NewCoalescer(name string, task Task, cfg CoalescerConfig) *Coalescer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Coalescer{
		name:       name,
		task:       task,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		pending:    make(chan struct{}, 1),
	}
}

// Start launches the worker. Safe to call once.
func (c *Coalescer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.worker()
	c.started = true
	c.logger.Sugar().Infow("coalescer started", "coalescer", c.name)
}

// Stop runs any pending trigger, then stops the worker and waits for it.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.started = false
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Sugar().Infow("coalescer stopped", "coalescer", c.name)
}

// Trigger schedules a run. It never blocks and reports false when the
// trigger merged into one that is already pending.
func (c *Coalescer) Trigger() (bool, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return false, fmt.Errorf("coalescer %s not started", c.name)
	}

	select {
	case c.pending <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (c *Coalescer) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			select {
			case <-c.pending:
				// Flush the last trigger with a fresh context so shutdown does
				// not leave stale entries behind.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.run(flushCtx)
				cancel()
			default:
			}
			return
		case <-c.pending:
			c.run(c.ctx)
		}
	}
}

func (c *Coalescer) run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		err := c.task(ctx)
		if err == nil {
			return
		}
		if attempt >= c.maxRetries {
			c.logger.Sugar().Errorw("task exceeded retries", "coalescer", c.name, "attempts", attempt+1, "error", err)
			return
		}
		c.logger.Sugar().Warnw("task failed, retrying", "coalescer", c.name, "attempt", attempt+1, "error", err)

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
