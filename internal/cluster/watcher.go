package cluster

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/anklab/avahi-advertiser/internal/logger"
	"github.com/anklab/avahi-advertiser/internal/metrics"
)

// EventType labels what happened to a Service.
type EventType string

const (
	// EventSync delivers a full snapshot that replaces all prior state.
	EventSync EventType = "SYNC"
	// EventAdded, EventModified and EventDeleted mirror the cluster
	// watch stream.
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// Event is one unit of work for the reconciler. Sync events carry
// Snapshot; the others carry Service.
type Event struct {
	Type     EventType
	Service  *corev1.Service
	Snapshot []*corev1.Service
}

// DefaultRetryInterval paces reconnects after list or watch failures.
const DefaultRetryInterval = 5 * time.Second

// Reasons a stream gave way to a re-list; also the label values of the
// relists metric.
const (
	relistReasonExpired      = "expired"
	relistReasonWatchError   = "watch_error"
	relistReasonStreamClosed = "stream_closed"
	relistReasonResync       = "resync"
)

type state int

const (
	stateRelisting state = iota
	stateStreaming
)

// Watcher turns the cluster's Services into a single ordered event
// queue.
//
// It runs a two-state machine. Re-listing: full List, emit one Sync
// event, remember the snapshot's resourceVersion. Streaming: Watch
// from that version and translate every change into a queue event,
// advancing the version as objects arrive. Expired versions, stream
// errors, closed streams and resync triggers all fall back to
// re-listing; the queue consumer only ever sees Sync followed by
// incremental events, in order.
type Watcher struct {
	source        ServiceSource
	log           logger.Logger
	retryInterval time.Duration

	events        chan Event
	resyncTrigger chan struct{}
	stopCh        chan struct{}
}

// NewWatcher creates a watcher over the given source.
func NewWatcher(source ServiceSource, log logger.Logger, retryInterval time.Duration) *Watcher {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Watcher{
		source:        source,
		log:           log,
		retryInterval: retryInterval,
		events:        make(chan Event, 64),
		resyncTrigger: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// Events is the single-consumer queue. It closes after Stop, so the
// consumer can drain and exit by ranging over it.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// TriggerResync requests a full re-list. Non-blocking; returns false
// when one is already pending.
func (w *Watcher) TriggerResync() bool {
	select {
	case w.resyncTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start performs the initial list synchronously, then streams in the
// background. An unreachable API at this point is a startup failure;
// later failures are retried forever.
func (w *Watcher) Start(ctx context.Context) error {
	services, rv, err := w.source.List(ctx)
	if err != nil {
		return fmt.Errorf("initial service list failed: %w", err)
	}
	w.log.Info("listed cluster services", logger.Int("count", len(services)))

	go w.run(ctx, services, rv)
	return nil
}

// Stop ends the loop. The events channel closes once the current
// stream winds down.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

func (w *Watcher) run(ctx context.Context, initial []*corev1.Service, rv string) {
	defer close(w.events)

	metrics.WatchEvents.WithLabelValues("sync").Inc()
	if !w.emit(ctx, Event{Type: EventSync, Snapshot: initial}) {
		return
	}

	st := stateStreaming
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		switch st {
		case stateRelisting:
			services, newRV, err := w.source.List(ctx)
			if err != nil {
				w.log.Error("failed to re-list services", logger.Error(err))
				if !w.wait(ctx) {
					return
				}
				continue
			}
			w.log.Info("re-listed cluster services", logger.Int("count", len(services)))
			metrics.WatchEvents.WithLabelValues("sync").Inc()
			if !w.emit(ctx, Event{Type: EventSync, Snapshot: services}) {
				return
			}
			rv = newRV
			st = stateStreaming

		case stateStreaming:
			newRV, reason, ok := w.stream(ctx, rv)
			if !ok {
				return
			}
			rv = newRV
			metrics.Relists.WithLabelValues(reason).Inc()
			st = stateRelisting
		}
	}
}

// stream consumes one watch connection. It returns the last seen
// resourceVersion plus the reason a re-list is needed, or ok=false
// when the watcher should exit.
func (w *Watcher) stream(ctx context.Context, rv string) (string, string, bool) {
	stream, err := w.source.Watch(ctx, rv)
	if err != nil {
		w.log.Error("failed to open watch stream", logger.Error(err))
		if !w.wait(ctx) {
			return rv, "", false
		}
		return rv, relistReasonWatchError, true
	}
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return rv, "", false
		case <-w.stopCh:
			return rv, "", false
		case <-w.resyncTrigger:
			w.log.Info("resync requested, re-listing")
			return rv, relistReasonResync, true
		case ev, open := <-stream.ResultChan():
			if !open {
				w.log.Warn("watch stream closed, re-listing")
				return rv, relistReasonStreamClosed, true
			}

			switch ev.Type {
			case watch.Bookmark:
				if svc, ok := ev.Object.(*corev1.Service); ok {
					rv = svc.ResourceVersion
				}

			case watch.Error:
				err := apierrors.FromObject(ev.Object)
				if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
					w.log.Warn("resource version expired, re-listing", logger.Error(err))
					return rv, relistReasonExpired, true
				}
				w.log.Error("watch stream error, re-listing", logger.Error(err))
				if !w.wait(ctx) {
					return rv, "", false
				}
				return rv, relistReasonWatchError, true

			case watch.Added, watch.Modified, watch.Deleted:
				svc, ok := ev.Object.(*corev1.Service)
				if !ok {
					w.log.Warn("dropping non-service object from watch stream")
					continue
				}
				rv = svc.ResourceVersion
				et := EventType(ev.Type)
				metrics.WatchEvents.WithLabelValues(strings.ToLower(string(et))).Inc()
				if !w.emit(ctx, Event{Type: et, Service: svc}) {
					return rv, "", false
				}
			}
		}
	}
}

// emit delivers an event to the queue, honoring shutdown.
func (w *Watcher) emit(ctx context.Context, ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	}
}

// wait sleeps one retry interval, honoring shutdown.
func (w *Watcher) wait(ctx context.Context) bool {
	select {
	case <-time.After(w.retryInterval):
		return true
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	}
}
