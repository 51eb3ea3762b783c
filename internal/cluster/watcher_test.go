package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/anklab/avahi-advertiser/internal/logger"
)

// fakeSource scripts List results and hands each opened watch stream
// back to the test so it can drive events.
type fakeSource struct {
	mu        sync.Mutex
	lists     [][]*corev1.Service
	listCalls int
	watchRVs  []string
	watchers  chan *watch.FakeWatcher
}

func newFakeSource(lists ...[]*corev1.Service) *fakeSource {
	return &fakeSource{lists: lists, watchers: make(chan *watch.FakeWatcher, 4)}
}

func (f *fakeSource) List(_ context.Context) ([]*corev1.Service, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.listCalls
	if i >= len(f.lists) {
		i = len(f.lists) - 1
	}
	f.listCalls++
	return f.lists[i], fmt.Sprintf("rv-%d", f.listCalls), nil
}

func (f *fakeSource) Watch(_ context.Context, rv string) (watch.Interface, error) {
	f.mu.Lock()
	f.watchRVs = append(f.watchRVs, rv)
	f.mu.Unlock()

	fw := watch.NewFake()
	f.watchers <- fw
	return fw, nil
}

func (f *fakeSource) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeSource) watchVersions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.watchRVs...)
}

func testService(ns, name, rv string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name, ResourceVersion: rv},
		Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeClusterIP},
	}
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func waitWatcher(t *testing.T, src *fakeSource) *watch.FakeWatcher {
	t.Helper()
	select {
	case fw := <-src.watchers:
		return fw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a watch stream to open")
	}
	return nil
}

func startWatcher(t *testing.T, src ServiceSource) *Watcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w := NewWatcher(src, logger.New("error", false), 10*time.Millisecond)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return w
}

func TestWatcherInitialSync(t *testing.T) {
	src := newFakeSource([]*corev1.Service{testService("media", "jellyfin", "1")})
	w := startWatcher(t, src)
	defer w.Stop()

	ev := waitEvent(t, w.Events())
	if ev.Type != EventSync {
		t.Fatalf("first event = %v, want %v", ev.Type, EventSync)
	}
	if len(ev.Snapshot) != 1 || ev.Snapshot[0].Name != "jellyfin" {
		t.Errorf("Sync snapshot = %v, want the listed service", ev.Snapshot)
	}
}

func TestWatcherStreamsEvents(t *testing.T) {
	src := newFakeSource(nil)
	w := startWatcher(t, src)
	defer w.Stop()

	waitEvent(t, w.Events()) // initial sync
	fw := waitWatcher(t, src)

	svc := testService("default", "web-app", "2")
	fw.Add(svc)
	ev := waitEvent(t, w.Events())
	if ev.Type != EventAdded || ev.Service.Name != "web-app" {
		t.Errorf("event = %v %v, want ADDED web-app", ev.Type, ev.Service)
	}

	svc2 := testService("default", "web-app", "3")
	fw.Modify(svc2)
	ev = waitEvent(t, w.Events())
	if ev.Type != EventModified {
		t.Errorf("event = %v, want %v", ev.Type, EventModified)
	}

	fw.Delete(svc2)
	ev = waitEvent(t, w.Events())
	if ev.Type != EventDeleted {
		t.Errorf("event = %v, want %v", ev.Type, EventDeleted)
	}
}

func TestWatcherBookmarkAdvancesVersionWithoutEvent(t *testing.T) {
	src := newFakeSource(nil)
	w := NewWatcher(src, logger.New("error", false), 10*time.Millisecond)

	type streamReturn struct {
		rv     string
		reason string
		ok     bool
	}
	done := make(chan streamReturn, 1)
	go func() {
		rv, reason, ok := w.stream(context.Background(), "rv-1")
		done <- streamReturn{rv, reason, ok}
	}()
	fw := waitWatcher(t, src)

	fw.Action(watch.Bookmark, testService("media", "jellyfin", "7"))
	fw.Stop()

	var got streamReturn
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the stream to end")
	}
	if !got.ok || got.reason != relistReasonStreamClosed {
		t.Fatalf("stream() = (%q, %q, %v), want a stream-closed re-list", got.rv, got.reason, got.ok)
	}
	if got.rv != "7" {
		t.Errorf("stream() version = %q, want the bookmark's %q", got.rv, "7")
	}
	select {
	case ev := <-w.Events():
		t.Errorf("bookmark emitted a %v event, want none", ev.Type)
	default:
	}
}

func TestWatcherRelistAfterBookmarkUsesFreshVersion(t *testing.T) {
	src := newFakeSource(nil)
	w := startWatcher(t, src)
	defer w.Stop()

	waitEvent(t, w.Events()) // initial sync
	fw := waitWatcher(t, src)

	fw.Action(watch.Bookmark, testService("media", "jellyfin", "7"))
	fw.Stop()

	ev := waitEvent(t, w.Events())
	if ev.Type != EventSync {
		t.Fatalf("event after bookmark = %v, want %v", ev.Type, EventSync)
	}
	waitWatcher(t, src)

	rvs := src.watchVersions()
	if len(rvs) != 2 || rvs[0] != "rv-1" || rvs[1] != "rv-2" {
		t.Errorf("watches opened from %v, want [rv-1 rv-2]", rvs)
	}
}

func TestWatcherRelistsOnExpired(t *testing.T) {
	src := newFakeSource(
		[]*corev1.Service{testService("media", "jellyfin", "1")},
		[]*corev1.Service{testService("media", "jellyfin", "5"), testService("default", "web-app", "6")},
	)
	w := startWatcher(t, src)
	defer w.Stop()

	waitEvent(t, w.Events()) // initial sync
	fw := waitWatcher(t, src)

	fw.Error(&metav1.Status{
		Code:   410,
		Reason: metav1.StatusReasonExpired,
	})

	ev := waitEvent(t, w.Events())
	if ev.Type != EventSync {
		t.Fatalf("event after expiry = %v, want %v", ev.Type, EventSync)
	}
	if len(ev.Snapshot) != 2 {
		t.Errorf("re-list snapshot has %d services, want 2", len(ev.Snapshot))
	}
	waitWatcher(t, src) // a fresh stream must be opened
	if src.listCount() != 2 {
		t.Errorf("list calls = %d, want 2", src.listCount())
	}
}

func TestWatcherRelistsWhenStreamCloses(t *testing.T) {
	src := newFakeSource(nil)
	w := startWatcher(t, src)
	defer w.Stop()

	waitEvent(t, w.Events()) // initial sync
	fw := waitWatcher(t, src)

	fw.Stop()

	ev := waitEvent(t, w.Events())
	if ev.Type != EventSync {
		t.Errorf("event after stream close = %v, want %v", ev.Type, EventSync)
	}
	waitWatcher(t, src)
}

func TestWatcherTriggerResync(t *testing.T) {
	src := newFakeSource(nil)
	w := startWatcher(t, src)
	defer w.Stop()

	waitEvent(t, w.Events()) // initial sync
	waitWatcher(t, src)

	if !w.TriggerResync() {
		t.Fatal("TriggerResync() = false, want true")
	}

	ev := waitEvent(t, w.Events())
	if ev.Type != EventSync {
		t.Errorf("event after resync trigger = %v, want %v", ev.Type, EventSync)
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	src := newFakeSource(nil)
	w := startWatcher(t, src)

	waitEvent(t, w.Events()) // initial sync
	waitWatcher(t, src)

	w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel did not close after Stop()")
		}
	}
}
