package reconciler

import (
	"context"

	corev1 "k8s.io/api/core/v1"

	"github.com/anklab/avahi-advertiser/internal/cluster"
	"github.com/anklab/avahi-advertiser/internal/domain"
	"github.com/anklab/avahi-advertiser/internal/index"
	"github.com/anklab/avahi-advertiser/internal/logger"
	"github.com/anklab/avahi-advertiser/internal/metrics"
	"github.com/anklab/avahi-advertiser/internal/store/avahi"
)

// Reconciler converges the Avahi surfaces to the cluster state.
//
// It is the single consumer of the watcher queue and the only writer
// of both the record index and the surfaces. Sync events rebuild
// everything (including the removal of stale entries left by earlier
// runs); Added/Modified/Deleted events update one ref at a time.
// A ref whose write fails keeps its previous state and is retried by
// the next event or re-list.
type Reconciler struct {
	index  *index.RecordIndex
	store  *avahi.Store
	events <-chan cluster.Event
	log    logger.Logger
	done   chan struct{}
}

// New creates a reconciler draining the given event queue.
func New(idx *index.RecordIndex, store *avahi.Store, events <-chan cluster.Event, log logger.Logger) *Reconciler {
	return &Reconciler{
		index:  idx,
		store:  store,
		events: events,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start consumes events until the queue closes. The in-flight event
// always finishes; cancellation only stops the loop between events.
func (r *Reconciler) Start(ctx context.Context) error {
	go func() {
		defer close(r.done)
		for ev := range r.events {
			r.handle(ctx, ev)
		}
	}()
	return nil
}

// Done closes once the queue is drained after the watcher stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

func (r *Reconciler) handle(ctx context.Context, ev cluster.Event) {
	switch ev.Type {
	case cluster.EventSync:
		r.fullSync(ev.Snapshot)
	case cluster.EventAdded, cluster.EventModified:
		r.reconcile(ev.Service, false)
	case cluster.EventDeleted:
		r.reconcile(ev.Service, true)
	}

	if err := r.store.ReloadIfNeeded(ctx); err != nil {
		r.log.Error("avahi reload failed", logger.Error(err))
	}

	hosts, services := r.index.CountByKind()
	metrics.RecordsAdvertised.WithLabelValues("host").Set(float64(hosts))
	metrics.RecordsAdvertised.WithLabelValues("service").Set(float64(services))
}

// reconcile converges a single ref after a stream event.
func (r *Reconciler) reconcile(svc *corev1.Service, deleted bool) {
	ref := domain.RefOf(svc)

	var desired *domain.AdvertisedRecord
	if !deleted {
		intent, warnings := domain.Interpret(svc)
		for _, warn := range warnings {
			r.log.Warn(warn, logger.String("service", ref.String()))
		}
		desired = domain.FromIntent(ref, intent)
	}

	current, exists := r.index.Get(ref)

	switch {
	case desired == nil && !exists:
		metrics.Reconciles.WithLabelValues("noop").Inc()

	case desired == nil:
		if err := r.remove(ref, current); err != nil {
			r.log.Error("failed to remove advertisement",
				logger.String("service", ref.String()),
				logger.Error(err))
			metrics.SurfaceWriteErrors.Inc()
			metrics.Reconciles.WithLabelValues("error").Inc()
			return
		}
		r.index.Delete(ref)
		r.log.Info("advertisement removed",
			logger.String("service", ref.String()),
			logger.String("name", current.Name()))
		metrics.Reconciles.WithLabelValues("removed").Inc()

	case desired.Equal(current):
		metrics.Reconciles.WithLabelValues("noop").Inc()

	default:
		r.warnServiceNameConflict(desired)
		if err := r.apply(current, desired); err != nil {
			r.log.Error("failed to apply advertisement",
				logger.String("service", ref.String()),
				logger.Error(err))
			metrics.SurfaceWriteErrors.Inc()
			metrics.Reconciles.WithLabelValues("error").Inc()
			return
		}
		r.index.Set(desired)
		r.log.Info("advertisement applied",
			logger.String("service", ref.String()),
			logger.String("kind", string(desired.Kind())),
			logger.String("name", desired.Name()))
		metrics.Reconciles.WithLabelValues("applied").Inc()
	}
}

// apply writes desired to the surfaces, cleaning up whatever current
// occupied that desired no longer does. State is updated by the caller
// only after apply succeeds.
func (r *Reconciler) apply(current, desired *domain.AdvertisedRecord) error {
	if current != nil && current.Service != nil {
		if desired.Service == nil || desired.Service.Name != current.Service.Name {
			if _, err := r.store.RemoveService(current.Service.Name); err != nil {
				return err
			}
		}
	}

	if desired.Host != nil || (current != nil && current.Host != nil) {
		if _, err := r.store.WriteHosts(r.hostEntries(desired.Ref, desired)); err != nil {
			return err
		}
	}

	if desired.Service != nil {
		if _, err := r.store.WriteService(desired.Service); err != nil {
			return err
		}
	}
	return nil
}

// remove drops current's surface entries for a ref that should no
// longer advertise.
func (r *Reconciler) remove(ref domain.ServiceRef, current *domain.AdvertisedRecord) error {
	if current.Host != nil {
		if _, err := r.store.WriteHosts(r.hostEntries(ref, nil)); err != nil {
			return err
		}
	}
	if current.Service != nil {
		if _, err := r.store.RemoveService(current.Service.Name); err != nil {
			return err
		}
	}
	return nil
}

// fullSync rebuilds both surfaces from a snapshot: every desired
// record is written (byte-compares make clean passes free and heal
// external edits), managed leftovers no live Service owns are removed,
// and the index is brought in line with what actually applied.
func (r *Reconciler) fullSync(snapshot []*corev1.Service) {
	r.log.Info("starting full sync", logger.Int("services", len(snapshot)))

	desired := make(map[domain.ServiceRef]*domain.AdvertisedRecord, len(snapshot))
	records := make([]*domain.AdvertisedRecord, 0, len(snapshot))
	for _, svc := range snapshot {
		ref := domain.RefOf(svc)
		intent, warnings := domain.Interpret(svc)
		for _, warn := range warnings {
			r.log.Warn(warn, logger.String("service", ref.String()))
		}
		if rec := domain.FromIntent(ref, intent); rec != nil {
			desired[ref] = rec
			records = append(records, rec)
		}
	}

	// hosts surface: one full rewrite. Later snapshot entries win
	// duplicate names, matching what repeated applies would do.
	var ordered []avahi.HostEntry
	for _, rec := range records {
		if rec.Host == nil {
			continue
		}
		ordered = append(ordered, avahi.HostEntry{Address: rec.Host.Address, FQDN: rec.Host.FQDN(), Owner: rec.Ref})
	}
	hostsOK := true
	if _, err := r.store.WriteHosts(r.dedupeHostEntries(ordered)); err != nil {
		hostsOK = false
		r.log.Error("failed to write hosts surface", logger.Error(err))
		metrics.SurfaceWriteErrors.Inc()
	}

	// service files: write each desired record, isolating failures
	r.warnServiceConflicts(records)
	desiredFiles := make(map[string]bool)
	fileOK := make(map[domain.ServiceRef]bool)
	for _, rec := range records {
		if rec.Service == nil {
			continue
		}
		desiredFiles[avahi.ServiceFileName(rec.Service.Name)] = true
		if _, err := r.store.WriteService(rec.Service); err != nil {
			r.log.Error("failed to write service file",
				logger.String("service", rec.Ref.String()),
				logger.Error(err))
			metrics.SurfaceWriteErrors.Inc()
			continue
		}
		fileOK[rec.Ref] = true
	}

	fileGone := r.sweepServiceFiles(desiredFiles)

	// index: record what applied, drop what is gone
	applied := 0
	for _, rec := range records {
		if (rec.Host != nil && hostsOK) || (rec.Service != nil && fileOK[rec.Ref]) {
			if current, ok := r.index.Get(rec.Ref); !ok || !current.Equal(rec) {
				r.index.Set(rec)
				applied++
			}
		}
	}
	for _, ref := range r.index.Refs() {
		if _, still := desired[ref]; still {
			continue
		}
		current, ok := r.index.Get(ref)
		if !ok {
			continue
		}
		switch {
		case current.Host != nil && hostsOK:
			r.index.Delete(ref)
		case current.Service != nil:
			// gone from disk, or its file now belongs to a live record
			f := avahi.ServiceFileName(current.Service.Name)
			if desiredFiles[f] || (fileGone != nil && fileGone[f]) {
				r.index.Delete(ref)
			}
		}
	}

	r.index.MarkFullSync()
	r.log.Info("full sync complete",
		logger.Int("records", r.index.Count()),
		logger.Int("applied", applied))
}

// sweepServiceFiles removes managed files no desired record owns.
// It returns which file names are now absent from the directory, or
// nil when the directory could not even be scanned.
func (r *Reconciler) sweepServiceFiles(desiredFiles map[string]bool) map[string]bool {
	onDisk, err := r.store.ScanServiceFiles()
	if err != nil {
		r.log.Error("failed to scan services directory", logger.Error(err))
		return nil
	}

	gone := make(map[string]bool)
	present := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		present[f] = true
	}

	for _, f := range onDisk {
		if desiredFiles[f] {
			continue
		}
		if err := r.store.RemoveServiceFile(f); err != nil {
			r.log.Error("failed to remove stale service file",
				logger.String("file", f),
				logger.Error(err))
			metrics.SurfaceWriteErrors.Inc()
			continue
		}
		r.log.Info("removed stale service file", logger.String("file", f))
		gone[f] = true
	}

	// files that were never on disk count as gone too
	goneOrAbsent := func(f string) bool { return gone[f] || !present[f] }
	all := make(map[string]bool)
	for _, a := range r.index.Applied() {
		if a.Record.Service == nil {
			continue
		}
		f := avahi.ServiceFileName(a.Record.Service.Name)
		if goneOrAbsent(f) {
			all[f] = true
		}
	}
	return all
}

// hostEntries composes the managed hosts set from the applied records,
// with override standing in for its ref at the newest position. Pass a
// nil override to compose without the excluded ref.
func (r *Reconciler) hostEntries(exclude domain.ServiceRef, override *domain.AdvertisedRecord) []avahi.HostEntry {
	var ordered []avahi.HostEntry
	for _, a := range r.index.Applied() {
		rec := a.Record
		if rec.Ref == exclude || rec.Host == nil {
			continue
		}
		ordered = append(ordered, avahi.HostEntry{Address: rec.Host.Address, FQDN: rec.Host.FQDN(), Owner: rec.Ref})
	}
	if override != nil && override.Host != nil {
		ordered = append(ordered, avahi.HostEntry{Address: override.Host.Address, FQDN: override.Host.FQDN(), Owner: override.Ref})
	}
	return r.dedupeHostEntries(ordered)
}

// dedupeHostEntries keeps the last claim of every name. A name claimed
// by two refs is an operator mistake; it is logged loudly every time
// the surface is composed, and the newest claim wins.
func (r *Reconciler) dedupeHostEntries(ordered []avahi.HostEntry) []avahi.HostEntry {
	byName := make(map[string]avahi.HostEntry, len(ordered))
	for _, e := range ordered {
		if prev, ok := byName[e.FQDN]; ok && prev.Owner != e.Owner {
			r.logNameConflict(e.FQDN, e.Owner, prev.Owner)
		}
		byName[e.FQDN] = e
	}

	entries := make([]avahi.HostEntry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	return entries
}

// warnServiceNameConflict flags another applied ref already holding
// desired's service name. The write proceeds; the two share one file
// and the last applied owns its bytes.
func (r *Reconciler) warnServiceNameConflict(desired *domain.AdvertisedRecord) {
	if desired.Service == nil {
		return
	}
	for _, a := range r.index.Applied() {
		other := a.Record
		if other.Ref == desired.Ref || other.Service == nil {
			continue
		}
		if other.Service.Name == desired.Service.Name {
			r.logNameConflict(desired.Service.Name, desired.Ref, other.Ref)
		}
	}
}

// warnServiceConflicts flags duplicate service names inside one
// snapshot.
func (r *Reconciler) warnServiceConflicts(records []*domain.AdvertisedRecord) {
	owner := make(map[string]domain.ServiceRef)
	for _, rec := range records {
		if rec.Service == nil {
			continue
		}
		if prev, ok := owner[rec.Service.Name]; ok && prev != rec.Ref {
			r.logNameConflict(rec.Service.Name, rec.Ref, prev)
		}
		owner[rec.Service.Name] = rec.Ref
	}
}

func (r *Reconciler) logNameConflict(name string, winner, shadowed domain.ServiceRef) {
	r.log.Error("advertised name conflict, last applied wins",
		logger.String("name", name),
		logger.String("winner", winner.String()),
		logger.String("shadowed", shadowed.String()))
}
