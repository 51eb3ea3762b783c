package domain

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// ServiceRef identifies a Kubernetes Service across its lifetime.
//
// It is the key of all reconciler state: annotations, addresses and
// ports may change on every event, the ref never does.
type ServiceRef struct {
	Namespace string
	Name      string
}

// RefOf extracts the ref of a Service object.
func RefOf(svc *corev1.Service) ServiceRef {
	return ServiceRef{Namespace: svc.Namespace, Name: svc.Name}
}

// String renders the usual "namespace/name" form.
func (r ServiceRef) String() string {
	return r.Namespace + "/" + r.Name
}

// ParseRef parses a "namespace/name" string back into a ref.
// Used when reading provenance comments off the hosts surface.
func ParseRef(s string) (ServiceRef, bool) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" {
		return ServiceRef{}, false
	}
	return ServiceRef{Namespace: ns, Name: name}, true
}
