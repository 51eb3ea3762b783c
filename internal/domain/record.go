package domain

// HostRecordEntry is one managed line on the Avahi hosts surface,
// mapping "<Name>.local" to a LoadBalancer address.
type HostRecordEntry struct {
	Name    string
	Address string
}

// FQDN is the fully qualified mDNS name of the entry.
func (h *HostRecordEntry) FQDN() string {
	return h.Name + ".local"
}

// ServiceRecordEntry is one DNS-SD service record, written as a single
// XML file in the Avahi services directory.
type ServiceRecordEntry struct {
	Name string
	Type string
	Port int32
	TXT  []TXTPair
}

// AdvertisedRecord is the concrete advertisement derived from one
// Service: exactly one of Host or Service is set, plus the ref it was
// derived from.
type AdvertisedRecord struct {
	Ref     ServiceRef
	Host    *HostRecordEntry
	Service *ServiceRecordEntry
}

// FromIntent maps an intent to at most one record. It returns nil when
// nothing should be advertised: intent disabled, or Kind None.
func FromIntent(ref ServiceRef, intent AdvertisementIntent) *AdvertisedRecord {
	if !intent.Enabled {
		return nil
	}
	switch intent.Kind {
	case KindHost:
		return &AdvertisedRecord{
			Ref:  ref,
			Host: &HostRecordEntry{Name: intent.AdvertisedName, Address: intent.Address},
		}
	case KindService:
		txt := make([]TXTPair, len(intent.TXT))
		copy(txt, intent.TXT)
		return &AdvertisedRecord{
			Ref: ref,
			Service: &ServiceRecordEntry{
				Name: intent.AdvertisedName,
				Type: intent.ServiceType,
				Port: intent.Port,
				TXT:  txt,
			},
		}
	default:
		return nil
	}
}

// Kind reports which surface the record belongs to.
func (r *AdvertisedRecord) Kind() RecordKind {
	switch {
	case r == nil:
		return KindNone
	case r.Host != nil:
		return KindHost
	case r.Service != nil:
		return KindService
	default:
		return KindNone
	}
}

// Name is the advertised name regardless of kind.
func (r *AdvertisedRecord) Name() string {
	switch {
	case r == nil:
		return ""
	case r.Host != nil:
		return r.Host.Name
	case r.Service != nil:
		return r.Service.Name
	default:
		return ""
	}
}

// Equal compares two records deeply. The reconciler skips all disk work
// when the newly derived record equals the applied one.
func (r *AdvertisedRecord) Equal(o *AdvertisedRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Ref != o.Ref {
		return false
	}
	if (r.Host == nil) != (o.Host == nil) || (r.Service == nil) != (o.Service == nil) {
		return false
	}
	if r.Host != nil && *r.Host != *o.Host {
		return false
	}
	if r.Service != nil {
		a, b := r.Service, o.Service
		if a.Name != b.Name || a.Type != b.Type || a.Port != b.Port || len(a.TXT) != len(b.TXT) {
			return false
		}
		for i := range a.TXT {
			if a.TXT[i] != b.TXT[i] {
				return false
			}
		}
	}
	return true
}
