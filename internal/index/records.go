package index

import (
	"sort"
	"sync"
	"time"

	"github.com/anklab/avahi-advertiser/internal/domain"
)

// Applied is a record together with the order it was applied in.
// Sequence numbers break ties when two records claim the same
// advertised name: the highest one owns it.
type Applied struct {
	Record *domain.AdvertisedRecord
	Seq    uint64
}

// RecordIndex is the in-memory reconciler state: which record is
// currently applied for each ServiceRef. It is rebuilt from the
// cluster on every startup and never persisted; the Avahi surfaces
// are the only durable truth.
//
// The reconciler is the only writer. HTTP handlers read.
type RecordIndex struct {
	mu           sync.RWMutex
	records      map[domain.ServiceRef]Applied
	nextSeq      uint64
	lastFullSync time.Time // Timestamp of last completed full sync
}

// NewRecordIndex creates an empty index.
func NewRecordIndex() *RecordIndex {
	return &RecordIndex{
		records: make(map[domain.ServiceRef]Applied),
	}
}

// Set stores the applied record for its ref and assigns it the next
// apply sequence number.
func (idx *RecordIndex) Set(rec *domain.AdvertisedRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nextSeq++
	idx.records[rec.Ref] = Applied{Record: rec, Seq: idx.nextSeq}
}

// Get retrieves the applied record for a ref.
func (idx *RecordIndex) Get(ref domain.ServiceRef) (*domain.AdvertisedRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	applied, ok := idx.records[ref]
	if !ok {
		return nil, false
	}
	return applied.Record, true
}

// Delete removes a ref from the index.
func (idx *RecordIndex) Delete(ref domain.ServiceRef) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.records, ref)
}

// Refs returns all refs currently applied, sorted.
func (idx *RecordIndex) Refs() []domain.ServiceRef {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	refs := make([]domain.ServiceRef, 0, len(idx.records))
	for ref := range idx.records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

// All returns all applied records, sorted by ref.
func (idx *RecordIndex) All() []*domain.AdvertisedRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	records := make([]*domain.AdvertisedRecord, 0, len(idx.records))
	for _, applied := range idx.records {
		records = append(records, applied.Record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Ref.String() < records[j].Ref.String() })
	return records
}

// Applied returns all applied records in apply order, oldest first.
// The hosts-surface composition iterates this so that the most
// recently applied claim of a name wins.
func (idx *RecordIndex) Applied() []Applied {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	applied := make([]Applied, 0, len(idx.records))
	for _, a := range idx.records {
		applied = append(applied, a)
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].Seq < applied[j].Seq })
	return applied
}

// Count returns the number of applied records.
func (idx *RecordIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.records)
}

// CountByKind returns how many host and service records are applied.
func (idx *RecordIndex) CountByKind() (hosts, services int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, applied := range idx.records {
		switch applied.Record.Kind() {
		case domain.KindHost:
			hosts++
		case domain.KindService:
			services++
		}
	}
	return hosts, services
}

// MarkFullSync records that a full sync completed.
func (idx *RecordIndex) MarkFullSync() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.lastFullSync = time.Now()
}

// LastFullSync returns the timestamp of the last completed full sync,
// zero before the first one.
func (idx *RecordIndex) LastFullSync() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastFullSync
}
