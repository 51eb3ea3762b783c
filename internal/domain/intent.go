package domain

import (
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// AnnotationPrefix namespaces every annotation this daemon reads.
const AnnotationPrefix = "avahi.local/"

// Annotation keys, relative to AnnotationPrefix.
const (
	annotationEnabled     = AnnotationPrefix + "enabled"
	annotationName        = AnnotationPrefix + "name"
	annotationServiceType = AnnotationPrefix + "service-type"
	annotationTXTPrefix   = AnnotationPrefix + "txt-"
)

// DefaultServiceType is advertised when the service-type annotation is
// absent or malformed.
const DefaultServiceType = "_http._tcp"

// serviceTypePattern matches DNS-SD types like "_http._tcp" or "_ipp._udp".
var serviceTypePattern = regexp.MustCompile(`^_[A-Za-z0-9-]+\._(tcp|udp)$`)

// RecordKind says which mDNS surface a Service maps to.
type RecordKind string

const (
	// KindNone means the Service maps to no advertisement.
	KindNone RecordKind = "none"
	// KindHost maps a LoadBalancer IP to a hosts-file address record.
	KindHost RecordKind = "host"
	// KindService maps a NodePort to a DNS-SD service record.
	KindService RecordKind = "service"
)

// TXTPair is one key=value TXT entry of a service record.
type TXTPair struct {
	Key   string
	Value string
}

// AdvertisementIntent is what a Service asks to advertise, read off its
// type, status and avahi.local/* annotations.
//
// An intent is descriptive only: Kind None or Enabled false both mean
// "advertise nothing", and the record model turns the rest into at most
// one concrete record.
type AdvertisementIntent struct {
	// Enabled is true unless the enabled annotation says "false".
	Enabled bool

	// AdvertisedName is the mDNS name, without the ".local" suffix.
	// Defaults to the Service name, overridable by annotation.
	AdvertisedName string

	// Kind selects the surface: host record, service record, or none.
	Kind RecordKind

	// Address is the LoadBalancer ingress IP. Set only for KindHost.
	Address string

	// Port is the allocated nodePort. Set only for KindService.
	Port int32

	// ServiceType is the DNS-SD type, e.g. "_http._tcp".
	ServiceType string

	// TXT holds the txt-* annotation pairs, sorted by key.
	TXT []TXTPair
}

// Interpret reads a Service into an AdvertisementIntent.
//
// It is a pure function and never fails: malformed annotations fall back
// to defaults, and anything the caller should surface comes back as
// warning strings. Missing addresses or ports resolve to Kind None.
func Interpret(svc *corev1.Service) (AdvertisementIntent, []string) {
	var warnings []string
	annotations := svc.Annotations

	intent := AdvertisementIntent{
		Enabled:        !strings.EqualFold(annotations[annotationEnabled], "false"),
		AdvertisedName: svc.Name,
		Kind:           KindNone,
		ServiceType:    DefaultServiceType,
	}

	if override, ok := annotations[annotationName]; ok {
		name := strings.TrimSpace(override)
		switch {
		case name == "":
			warnings = append(warnings, fmt.Sprintf("name annotation on %s/%s is empty, using %q", svc.Namespace, svc.Name, svc.Name))
		case strings.ContainsAny(name, " \t/"):
			warnings = append(warnings, fmt.Sprintf("name annotation %q on %s/%s is not a valid mDNS name, using %q", override, svc.Namespace, svc.Name, svc.Name))
		default:
			intent.AdvertisedName = name
		}
	}

	if st, ok := annotations[annotationServiceType]; ok {
		if serviceTypePattern.MatchString(st) {
			intent.ServiceType = st
		} else {
			warnings = append(warnings, fmt.Sprintf("service-type %q on %s/%s is not of the form _name._tcp or _name._udp, using %q", st, svc.Namespace, svc.Name, DefaultServiceType))
		}
	}

	for key, value := range annotations {
		if !strings.HasPrefix(key, annotationTXTPrefix) {
			continue
		}
		txtKey := strings.TrimPrefix(key, annotationTXTPrefix)
		if txtKey == "" {
			warnings = append(warnings, fmt.Sprintf("ignoring empty txt key %q on %s/%s", key, svc.Namespace, svc.Name))
			continue
		}
		intent.TXT = append(intent.TXT, TXTPair{Key: txtKey, Value: value})
	}
	sort.Slice(intent.TXT, func(i, j int) bool { return intent.TXT[i].Key < intent.TXT[j].Key })

	switch svc.Spec.Type {
	case corev1.ServiceTypeLoadBalancer:
		if addr, ok := loadBalancerAddress(svc); ok {
			intent.Kind = KindHost
			intent.Address = addr
		} else if intent.Enabled {
			warnings = append(warnings, fmt.Sprintf("load balancer %s/%s has no ingress IP yet, skipping", svc.Namespace, svc.Name))
		}
	case corev1.ServiceTypeNodePort:
		if port, warn := nodePort(svc); port != 0 {
			intent.Kind = KindService
			intent.Port = port
		} else if intent.Enabled && warn != "" {
			warnings = append(warnings, warn)
		}
	}

	return intent, warnings
}

// loadBalancerAddress returns the first ingress entry carrying a
// parseable IP. Hostname-only ingress entries are skipped.
func loadBalancerAddress(svc *corev1.Service) (string, bool) {
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.IP == "" {
			continue
		}
		if _, err := netip.ParseAddr(ingress.IP); err == nil {
			return ingress.IP, true
		}
	}
	return "", false
}

// nodePort returns spec.ports[0].nodePort, or 0 plus a warning when the
// Service has no ports or the first port has no allocation yet.
func nodePort(svc *corev1.Service) (int32, string) {
	if len(svc.Spec.Ports) == 0 {
		return 0, fmt.Sprintf("nodeport service %s/%s has no ports defined, skipping", svc.Namespace, svc.Name)
	}
	if svc.Spec.Ports[0].NodePort == 0 {
		return 0, fmt.Sprintf("nodeport service %s/%s has no nodePort allocated yet, skipping", svc.Namespace, svc.Name)
	}
	return svc.Spec.Ports[0].NodePort, ""
}
