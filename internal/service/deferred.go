package service

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	deferredPending int32 = iota
	deferredRunning
	deferredCancelled
)

// Deferred is a callback scheduled for a future instant. The callback runs at
// most once, and never after a successful Cancel.
type Deferred struct {
	timer *time.Timer
	state atomic.Int32
}

// ScheduleAt runs fn once at instant at, measured against now. Instants in the
// past run fn immediately on a timer goroutine.
func ScheduleAt(at, now time.Time, fn func()) *Deferred {
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	d := &Deferred{}
	d.timer = time.AfterFunc(delay, func() {
		if d.state.CompareAndSwap(deferredPending, deferredRunning) {
			fn()
		}
	})
	return d
}

// Cancel reports whether the callback is guaranteed never to run. It returns
// false when the callback already started or the handle was cancelled before.
func (d *Deferred) Cancel() bool {
	if d == nil {
		return false
	}
	if d.state.CompareAndSwap(deferredPending, deferredCancelled) {
		d.timer.Stop()
		return true
	}
	return false
}

// Loop runs a function on a fixed interval until stopped.
type Loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Every calls fn every interval on its own goroutine, first immediately when
// immediate is set. fn receives a context that is cancelled by Stop, so a
// long provider call inside fn observes the stop. Runs never overlap.
func Every(ctx context.Context, interval time.Duration, immediate bool, fn func(ctx context.Context)) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		if immediate && ctx.Err() == nil {
			fn(ctx)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
	return l
}

func (l *Loop) Stop() {
	if l != nil {
		l.cancel()
	}
}

// Wait blocks until the loop goroutine has returned. It must not be called
// from inside fn.
func (l *Loop) Wait() {
	if l != nil {
		<-l.done
	}
}

// WaitContext is Wait bounded by ctx.
func (l *Loop) WaitContext(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
