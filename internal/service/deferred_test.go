package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeferredCancelBeforeInstantPreventsRun(t *testing.T) {
	var ran atomic.Bool
	now := time.Now()
	d := ScheduleAt(now.Add(50*time.Millisecond), now, func() { ran.Store(true) })
	if !d.Cancel() {
		t.Fatal("expected cancel before the instant to succeed")
	}
	if d.Cancel() {
		t.Fatal("second cancel must report false")
	}
	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Fatal("callback ran after cancel")
	}
}

func TestDeferredRunsOnceAndLateCancelIsNoop(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{})
	now := time.Now()
	d := ScheduleAt(now.Add(-time.Second), now, func() {
		runs.Add(1)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("past instant did not run")
	}
	if d.Cancel() {
		t.Fatal("cancel after run must report false")
	}
	time.Sleep(20 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("expected one run, got %d", n)
	}
}

func TestDeferredCancelRacesWithFire(t *testing.T) {
	for i := 0; i < 200; i++ {
		var runs atomic.Int32
		now := time.Now()
		d := ScheduleAt(now, now, func() { runs.Add(1) })
		cancelled := d.Cancel()
		time.Sleep(time.Millisecond)
		if cancelled && runs.Load() != 0 {
			t.Fatalf("iteration %d: callback ran after successful cancel", i)
		}
		if runs.Load() > 1 {
			t.Fatalf("iteration %d: callback ran %d times", i, runs.Load())
		}
	}
}

func TestLoopStopAndWait(t *testing.T) {
	var runs atomic.Int32
	l := Every(context.Background(), 5*time.Millisecond, true, func(context.Context) { runs.Add(1) })
	time.Sleep(30 * time.Millisecond)
	l.Stop()
	l.Wait()
	after := runs.Load()
	if after == 0 {
		t.Fatal("loop never ran")
	}
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("loop ran after Stop and Wait returned")
	}
}

func TestLoopStopCancelsRunningContext(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	l := Every(context.Background(), time.Hour, true, func(ctx context.Context) {
		once.Do(func() { close(started) })
		<-ctx.Done()
	})
	<-started
	l.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitContext(ctx); err != nil {
		t.Fatalf("loop did not observe stop: %v", err)
	}
}

func TestKeyedMutexSerialisesSameKeyOnly(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")

	otherKey := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(otherKey)
	}()
	select {
	case <-otherKey:
	case <-time.After(time.Second):
		t.Fatal("different key blocked")
	}

	sameKey := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(sameKey)
	}()
	select {
	case <-sameKey:
		t.Fatal("same key acquired while held")
	case <-time.After(30 * time.Millisecond):
	}
	unlockA()
	<-sameKey

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected idle keys to be released, got %d", len(k.locks))
	}
}
