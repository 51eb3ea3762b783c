package avahi

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/anklab/avahi-advertiser/internal/logger"
	"github.com/anklab/avahi-advertiser/internal/metrics"
	"github.com/anklab/avahi-advertiser/internal/utils"
)

// DefaultReloadTimeout bounds one reload request to the Avahi unit.
const DefaultReloadTimeout = 10 * time.Second

// Options configures a Store.
type Options struct {
	HostsFile     string
	ServicesDir   string
	Reloader      Reloader
	ReloadTimeout time.Duration
}

// Store owns the two Avahi surfaces: the shared hosts file and the
// per-record XML files in the services directory. Only the reconciler
// goroutine mutates them; scans are read-only and safe from anywhere.
type Store struct {
	hostsFile     string
	servicesDir   string
	reloader      Reloader
	reloadTimeout time.Duration
	log           logger.Logger

	needsReload atomic.Bool
}

// NewStore validates both surfaces and returns a ready store. A missing
// hosts file is created empty with a warning; a missing or unwritable
// services directory is an error.
func NewStore(opts Options, log logger.Logger) (*Store, error) {
	if opts.Reloader == nil {
		opts.Reloader = NoopReloader{}
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = DefaultReloadTimeout
	}

	s := &Store{
		hostsFile:     opts.HostsFile,
		servicesDir:   opts.ServicesDir,
		reloader:      opts.Reloader,
		reloadTimeout: opts.ReloadTimeout,
		log:           log,
	}

	if err := s.ensureSurfaces(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSurfaces performs the startup checks: both paths must be usable
// before the first reconcile runs.
func (s *Store) ensureSurfaces() error {
	if _, err := os.Stat(s.hostsFile); os.IsNotExist(err) {
		s.log.Warn("hosts file does not exist, creating it", logger.String("path", s.hostsFile))
		if werr := os.WriteFile(s.hostsFile, nil, 0o644); werr != nil {
			return fmt.Errorf("failed to create hosts file %s: %w", s.hostsFile, werr)
		}
	} else if err != nil {
		return fmt.Errorf("failed to stat hosts file %s: %w", s.hostsFile, err)
	}

	f, err := os.OpenFile(s.hostsFile, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("hosts file %s is not writable: %w", s.hostsFile, err)
	}
	utils.Close(f)

	info, err := os.Stat(s.servicesDir)
	if err != nil {
		return fmt.Errorf("services directory %s is not usable: %w", s.servicesDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("services directory %s is not a directory", s.servicesDir)
	}
	probe, err := os.CreateTemp(s.servicesDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("services directory %s is not writable: %w", s.servicesDir, err)
	}
	probeName := probe.Name()
	utils.Close(probe)
	if err := os.Remove(probeName); err != nil {
		return fmt.Errorf("failed to clean up probe file %s: %w", probeName, err)
	}

	return nil
}

// HostsFile returns the hosts surface path.
func (s *Store) HostsFile() string { return s.hostsFile }

// ServicesDir returns the services surface path.
func (s *Store) ServicesDir() string { return s.servicesDir }

// markChanged records that a surface changed and Avahi must reload.
func (s *Store) markChanged(surface string) {
	s.needsReload.Store(true)
	metrics.SurfaceWrites.WithLabelValues(surface).Inc()
}

// ReloadIfNeeded asks Avahi to reload when a surface changed since the
// last successful reload. A failed reload keeps the flag set so the
// next batch retries it.
func (s *Store) ReloadIfNeeded(ctx context.Context) error {
	if !s.needsReload.Load() {
		return nil
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reloadTimeout)
	defer cancel()

	if err := s.reloader.Reload(rctx); err != nil {
		metrics.AvahiReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reload avahi: %w", err)
	}
	metrics.AvahiReloads.WithLabelValues("ok").Inc()
	s.needsReload.Store(false)
	s.log.Debug("avahi daemon reloaded")
	return nil
}

// Close releases the reloader's bus connection.
func (s *Store) Close() error {
	return s.reloader.Close()
}

// writeFileAtomic writes data next to path, fsyncs, then renames over
// it so Avahi never observes a half-written surface.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		utils.Close(f)
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		utils.Close(f)
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s over %s: %w", tmp, path, err)
	}
	return nil
}
