package avahi

import (
	"strings"
	"unicode"
)

const (
	// ManagedHostsMarker tags every hosts-file line this daemon owns.
	// Lines without it are never touched.
	ManagedHostsMarker = "# Managed by k8s-avahi-advertiser"

	// ServiceFilePrefix and ServiceFileSuffix frame every managed file
	// in the services directory: "k8s-<safe name>.service".
	ServiceFilePrefix = "k8s-"
	ServiceFileSuffix = ".service"
)

// SafeName flattens an advertised name into a file-name token:
// lowercased, letters, digits, '-' and '_' kept, anything else
// replaced by '-'.
func SafeName(name string) string {
	return strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, name)
}

// ServiceFileName returns the file name advertising the given name.
func ServiceFileName(name string) string {
	return ServiceFilePrefix + SafeName(name) + ServiceFileSuffix
}

// IsManagedServiceFile reports whether a directory entry was written
// by this daemon, going by the naming convention.
func IsManagedServiceFile(filename string) bool {
	return strings.HasPrefix(filename, ServiceFilePrefix) && strings.HasSuffix(filename, ServiceFileSuffix)
}
