package avahi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anklab/avahi-advertiser/internal/domain"
	"github.com/anklab/avahi-advertiser/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	servicesDir := filepath.Join(dir, "services")
	if err := os.Mkdir(servicesDir, 0o755); err != nil {
		t.Fatalf("failed to create services dir: %v", err)
	}

	s, err := NewStore(Options{
		HostsFile:   filepath.Join(dir, "hosts"),
		ServicesDir: servicesDir,
	}, logger.New("error", false))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestNewStoreCreatesMissingHostsFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := os.Stat(s.HostsFile()); err != nil {
		t.Errorf("hosts file was not created: %v", err)
	}
}

func TestNewStoreRejectsMissingServicesDir(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(Options{
		HostsFile:   filepath.Join(dir, "hosts"),
		ServicesDir: filepath.Join(dir, "does-not-exist"),
	}, logger.New("error", false))
	if err == nil {
		t.Error("NewStore() with missing services dir should return error")
	}
}

func TestWriteHosts(t *testing.T) {
	s := newTestStore(t)

	changed, err := s.WriteHosts([]HostEntry{
		{Address: "192.168.1.60", FQDN: "grafana.local", Owner: domain.ServiceRef{Namespace: "monitoring", Name: "grafana"}},
		{Address: "192.168.1.50", FQDN: "jellyfin.local", Owner: domain.ServiceRef{Namespace: "media", Name: "jellyfin"}},
	})
	if err != nil {
		t.Fatalf("WriteHosts() error = %v", err)
	}
	if !changed {
		t.Error("WriteHosts() changed = false, want true")
	}

	want := "192.168.1.60 grafana.local # Managed by k8s-avahi-advertiser (monitoring/grafana)\n" +
		"192.168.1.50 jellyfin.local # Managed by k8s-avahi-advertiser (media/jellyfin)\n"
	if got := readFile(t, s.HostsFile()); got != want {
		t.Errorf("hosts file mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteHostsPreservesUnmanagedLines(t *testing.T) {
	s := newTestStore(t)

	seed := "127.0.0.1 localhost\n" +
		"\n" +
		"10.0.0.9 nas.local # hand maintained\n" +
		"10.0.0.1 stale.local " + ManagedHostsMarker + " (old/stale)\n"
	if err := os.WriteFile(s.HostsFile(), []byte(seed), 0o644); err != nil {
		t.Fatalf("failed to seed hosts file: %v", err)
	}

	if _, err := s.WriteHosts([]HostEntry{
		{Address: "192.168.1.50", FQDN: "jellyfin.local", Owner: domain.ServiceRef{Namespace: "media", Name: "jellyfin"}},
	}); err != nil {
		t.Fatalf("WriteHosts() error = %v", err)
	}

	want := "127.0.0.1 localhost\n" +
		"\n" +
		"10.0.0.9 nas.local # hand maintained\n" +
		"192.168.1.50 jellyfin.local " + ManagedHostsMarker + " (media/jellyfin)\n"
	if got := readFile(t, s.HostsFile()); got != want {
		t.Errorf("hosts file mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteHostsIdempotent(t *testing.T) {
	s := newTestStore(t)
	entries := []HostEntry{
		{Address: "192.168.1.50", FQDN: "jellyfin.local", Owner: domain.ServiceRef{Namespace: "media", Name: "jellyfin"}},
	}

	if _, err := s.WriteHosts(entries); err != nil {
		t.Fatalf("WriteHosts() error = %v", err)
	}
	before := readFile(t, s.HostsFile())

	changed, err := s.WriteHosts(entries)
	if err != nil {
		t.Fatalf("WriteHosts() second call error = %v", err)
	}
	if changed {
		t.Error("WriteHosts() second call changed = true, want false")
	}
	if got := readFile(t, s.HostsFile()); got != before {
		t.Error("hosts file content changed on identical rewrite")
	}
}

func TestWriteHostsEmptySetRemovesManagedBlock(t *testing.T) {
	s := newTestStore(t)

	seed := "127.0.0.1 localhost\n" +
		"10.0.0.1 stale.local " + ManagedHostsMarker + " (old/stale)\n"
	if err := os.WriteFile(s.HostsFile(), []byte(seed), 0o644); err != nil {
		t.Fatalf("failed to seed hosts file: %v", err)
	}

	changed, err := s.WriteHosts(nil)
	if err != nil {
		t.Fatalf("WriteHosts() error = %v", err)
	}
	if !changed {
		t.Error("WriteHosts() changed = false, want true")
	}
	if got := readFile(t, s.HostsFile()); got != "127.0.0.1 localhost\n" {
		t.Errorf("hosts file = %q, want only the unmanaged line", got)
	}
}

func TestWriteHostsLeavesNoTempFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WriteHosts([]HostEntry{{Address: "10.0.0.1", FQDN: "a.local"}}); err != nil {
		t.Fatalf("WriteHosts() error = %v", err)
	}
	if _, err := os.Stat(s.HostsFile() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after write (stat err = %v)", err)
	}
}

func TestScanHosts(t *testing.T) {
	s := newTestStore(t)
	entries := []HostEntry{
		{Address: "192.168.1.50", FQDN: "jellyfin.local", Owner: domain.ServiceRef{Namespace: "media", Name: "jellyfin"}},
		{Address: "192.168.1.60", FQDN: "grafana.local", Owner: domain.ServiceRef{Namespace: "monitoring", Name: "grafana"}},
	}
	if _, err := s.WriteHosts(entries); err != nil {
		t.Fatalf("WriteHosts() error = %v", err)
	}

	got, err := s.ScanHosts()
	if err != nil {
		t.Fatalf("ScanHosts() error = %v", err)
	}

	want := []HostEntry{
		{Address: "192.168.1.60", FQDN: "grafana.local", Owner: domain.ServiceRef{Namespace: "monitoring", Name: "grafana"}},
		{Address: "192.168.1.50", FQDN: "jellyfin.local", Owner: domain.ServiceRef{Namespace: "media", Name: "jellyfin"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ScanHosts() mismatch (-want +got):\n%s", diff)
	}
}

func TestScanHostsIgnoresUnmanagedLines(t *testing.T) {
	s := newTestStore(t)
	seed := "127.0.0.1 localhost\n10.0.0.9 nas.local # hand maintained\n"
	if err := os.WriteFile(s.HostsFile(), []byte(seed), 0o644); err != nil {
		t.Fatalf("failed to seed hosts file: %v", err)
	}

	got, err := s.ScanHosts()
	if err != nil {
		t.Fatalf("ScanHosts() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ScanHosts() = %v, want empty", got)
	}
}

func TestScanHostsMissingFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.Remove(s.HostsFile()); err != nil {
		t.Fatalf("failed to remove hosts file: %v", err)
	}

	got, err := s.ScanHosts()
	if err != nil {
		t.Fatalf("ScanHosts() error = %v", err)
	}
	if got != nil {
		t.Errorf("ScanHosts() = %v, want nil", got)
	}
}
