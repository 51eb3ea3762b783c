package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anklab/avahi-advertiser/internal/logger"
)

type fakeTarget struct {
	mu     sync.Mutex
	calls  int
	notify chan struct{}
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{notify: make(chan struct{}, 16)}
}

func (f *fakeTarget) TriggerResync() bool {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return true
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitTrigger(t *testing.T, target *fakeTarget) {
	t.Helper()
	select {
	case <-target.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a resync trigger")
	}
}

func TestResyncerPeriodicTrigger(t *testing.T) {
	target := newFakeTarget()
	rs := NewResyncer(target, logger.New("error", false), 10*time.Millisecond, make(chan struct{}))

	if err := rs.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rs.Stop()

	waitTrigger(t, target)
	waitTrigger(t, target)
}

func TestResyncerManualTrigger(t *testing.T) {
	target := newFakeTarget()
	manual := make(chan struct{}, 1)
	rs := NewResyncer(target, logger.New("error", false), time.Hour, manual)

	if err := rs.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rs.Stop()

	manual <- struct{}{}
	waitTrigger(t, target)

	if got := target.count(); got != 1 {
		t.Errorf("count() = %d, want 1", got)
	}
}

func TestResyncerStop(t *testing.T) {
	target := newFakeTarget()
	rs := NewResyncer(target, logger.New("error", false), 5*time.Millisecond, make(chan struct{}))

	if err := rs.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitTrigger(t, target)
	rs.Stop()

	time.Sleep(20 * time.Millisecond)
	before := target.count()
	time.Sleep(30 * time.Millisecond)
	if after := target.count(); after != before {
		t.Errorf("count() grew from %d to %d after Stop()", before, after)
	}
}

func TestResyncerContextCancel(t *testing.T) {
	target := newFakeTarget()
	ctx, cancel := context.WithCancel(context.Background())
	rs := NewResyncer(target, logger.New("error", false), 5*time.Millisecond, make(chan struct{}))

	if err := rs.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitTrigger(t, target)
	cancel()

	time.Sleep(20 * time.Millisecond)
	before := target.count()
	time.Sleep(30 * time.Millisecond)
	if after := target.count(); after != before {
		t.Errorf("count() grew from %d to %d after cancel", before, after)
	}
}
