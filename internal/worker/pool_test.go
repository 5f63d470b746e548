package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, time.Second, logger.Discard())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d after all jobs finished", p.Active())
	}
}

func TestPoolBusyAfterWait(t *testing.T) {
	p := NewPool(1, 30*time.Millisecond, logger.Discard())

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ran := false
	err := p.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.IsCode(err, errors.CodeBusy) {
		t.Fatalf("code = %s, want %s", errors.GetCode(err), errors.CodeBusy)
	}
	if errors.GetHTTPStatus(err) != 503 {
		t.Errorf("status = %d, want 503", errors.GetHTTPStatus(err))
	}
	if ran {
		t.Error("rejected job ran")
	}
	if p.Active() != 1 {
		t.Errorf("Active() = %d, want 1", p.Active())
	}
}

func TestPoolCanceledWhileWaiting(t *testing.T) {
	p := NewPool(1, time.Minute, logger.Discard())

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func(context.Context) error { return nil })
	if !errors.IsCode(err, errors.CodeCanceled) {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeCanceled)
	}
}

func TestPoolReturnsJobError(t *testing.T) {
	p := NewPool(1, time.Second, logger.Discard())
	want := errors.New(errors.CodeEncode, "boom")

	if err := p.Do(context.Background(), func(context.Context) error { return want }); err != want {
		t.Errorf("Do() = %v, want %v", err, want)
	}
	// slot released after a failure
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("second Do() = %v", err)
	}
}

func TestPoolDrain(t *testing.T) {
	p := NewPool(3, time.Second, logger.Discard())

	var done atomic.Bool
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			done.Store(true)
			return nil
		})
	}()
	<-started

	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !done.Load() {
		t.Error("Drain returned before the running job finished")
	}
}

func TestPoolDrainTimeout(t *testing.T) {
	p := NewPool(1, time.Second, logger.Discard())

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Drain(ctx); err == nil {
		t.Error("Drain() succeeded while a job was running")
	}
}

func TestNewPoolMinimumSize(t *testing.T) {
	if got := NewPool(0, 0, nil).Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
}
