// Package worker bounds how many render jobs run at once.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
)

// Pool admits at most size jobs at a time. A job that cannot get a slot
// within wait is rejected with a Busy error instead of queueing forever.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	wait   time.Duration
	active atomic.Int64
	log    *logger.Logger
}

func NewPool(size int, wait time.Duration, log *logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
		wait: wait,
		log:  log.WithComponent("pool"),
	}
}

// Do runs fn once a slot is free. The slot is released when fn returns.
// fn receives ctx unchanged so client cancellation still reaches the job.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.sem.Release(1)
	}()

	return fn(ctx)
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}

	log := p.log.FromContext(ctx)
	log.Debug("waiting for render slot", "active", p.Active(), "size", p.size)

	waitCtx := ctx
	if p.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}

	start := time.Now()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "pool.acquire", "canceled while waiting for a render slot")
		}
		log.Warn("render slot wait timed out", "waited_ms", time.Since(start).Milliseconds(), "size", p.size)
		return errors.Busy("no render slot became free").WithField("waited", p.wait.String())
	}
	return nil
}

// Active is the number of jobs currently holding a slot.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Size is the maximum number of concurrent jobs.
func (p *Pool) Size() int { return int(p.size) }

// Drain blocks until every running job has released its slot, or ctx ends.
// New jobs are not refused while draining; stop admitting work first.
func (p *Pool) Drain(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return err
	}
	p.sem.Release(p.size)
	return nil
}
