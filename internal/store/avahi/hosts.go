package avahi

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/anklab/avahi-advertiser/internal/domain"
)

// HostEntry is one managed line of the hosts surface.
type HostEntry struct {
	Address string
	FQDN    string
	Owner   domain.ServiceRef
}

// formatHostLine renders the managed-line layout:
// "<ip> <fqdn> <marker> (<namespace>/<name>)".
func formatHostLine(e HostEntry) string {
	return fmt.Sprintf("%s %s %s (%s)", e.Address, e.FQDN, ManagedHostsMarker, e.Owner)
}

// WriteHosts rewrites the managed block of the hosts file to exactly
// the given entries, sorted by name. Unmanaged lines are preserved
// verbatim, in order. Returns false without touching the file when it
// already matches.
func (s *Store) WriteHosts(entries []HostEntry) (bool, error) {
	current, err := os.ReadFile(s.hostsFile)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read hosts file %s: %w", s.hostsFile, err)
	}

	lines := strings.Split(string(current), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var keep []string
	for _, line := range lines {
		if strings.Contains(line, ManagedHostsMarker) {
			continue
		}
		keep = append(keep, line)
	}

	sorted := make([]HostEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FQDN < sorted[j].FQDN })

	var b strings.Builder
	for _, line := range keep {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, e := range sorted {
		b.WriteString(formatHostLine(e))
		b.WriteByte('\n')
	}

	next := []byte(b.String())
	if bytes.Equal(next, current) {
		return false, nil
	}
	if err := writeFileAtomic(s.hostsFile, next, 0o644); err != nil {
		return false, fmt.Errorf("failed to write hosts file %s: %w", s.hostsFile, err)
	}
	s.markChanged("hosts")
	return true, nil
}

// ScanHosts parses the managed lines currently on disk. The owner ref
// is best-effort: lines whose provenance comment got mangled come back
// with a zero Owner.
func (s *Store) ScanHosts() ([]HostEntry, error) {
	data, err := os.ReadFile(s.hostsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hosts file %s: %w", s.hostsFile, err)
	}

	var entries []HostEntry
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, ManagedHostsMarker) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		e := HostEntry{Address: fields[0], FQDN: fields[1]}
		if last := fields[len(fields)-1]; strings.HasPrefix(last, "(") && strings.HasSuffix(last, ")") {
			if ref, ok := domain.ParseRef(strings.Trim(last, "()")); ok {
				e.Owner = ref
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
