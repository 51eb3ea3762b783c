package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anklab/avahi-advertiser/internal/cluster"
	"github.com/anklab/avahi-advertiser/internal/config"
	"github.com/anklab/avahi-advertiser/internal/httpserver"
	"github.com/anklab/avahi-advertiser/internal/httpserver/deps"
	"github.com/anklab/avahi-advertiser/internal/index"
	"github.com/anklab/avahi-advertiser/internal/kube"
	"github.com/anklab/avahi-advertiser/internal/logger"
	"github.com/anklab/avahi-advertiser/internal/reconciler"
	"github.com/anklab/avahi-advertiser/internal/scheduler"
	"github.com/anklab/avahi-advertiser/internal/store/avahi"
	"github.com/anklab/avahi-advertiser/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	store       *avahi.Store
	recordIndex *index.RecordIndex
	watcher     *cluster.Watcher
	reconciler  *reconciler.Reconciler
	resyncer    *scheduler.Resyncer
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Connect to the Kubernetes API early - fail fast if unavailable
	loggerClient.Info("Connecting to Kubernetes API")
	kubeClient, err := kube.New(kube.ConnectOptions{
		Kubeconfig:     cfg.Kubeconfig,
		ConnectTimeout: cfg.KubeConnectTimeout,
		RetryInterval:  cfg.KubeRetryInterval,
		MaxWait:        cfg.KubeMaxWait,
		PingTimeout:    cfg.KubePingTimeout,
		WarnThreshold:  cfg.KubeWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Kubernetes: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Kubernetes client initialized successfully")

	// Pick the avahi-daemon reload strategy. A missing system bus is
	// not fatal: records still land on disk, the daemon just has to be
	// reloaded by other means.
	var reloader avahi.Reloader = avahi.NoopReloader{}
	if cfg.ReloadEnabled {
		systemd, err := avahi.NewSystemdReloader(context.Background(), cfg.ReloadUnit, loggerClient)
		if err != nil {
			loggerClient.Warn("systemd unavailable, avahi reloads disabled",
				logger.Error(err))
		} else {
			reloader = systemd
			loggerClient.Info("systemd reloader initialized",
				logger.String("unit", cfg.ReloadUnit))
		}
	} else {
		loggerClient.Info("avahi reloads disabled by configuration")
	}

	// Initialize the surface store - fail fast when the Avahi paths are unusable
	store, err := avahi.NewStore(avahi.Options{
		HostsFile:     cfg.HostsFile,
		ServicesDir:   cfg.ServicesDir,
		Reloader:      reloader,
		ReloadTimeout: cfg.ReloadTimeout,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to open Avahi surfaces: %v", err)
		os.Exit(1)
	}

	recordIndex := index.NewRecordIndex()

	watcher := cluster.NewWatcher(cluster.NewKubeSource(kubeClient), loggerClient, cfg.RetryInterval)
	rec := reconciler.New(recordIndex, store, watcher.Events(), loggerClient)

	// Create manual resync trigger channel
	resyncTrigger := make(chan struct{}, 1)
	resyncer := scheduler.NewResyncer(watcher, loggerClient, cfg.ResyncInterval, resyncTrigger)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		AllowedHosts:  cfg.AllowedHosts,
		AllowedCIDRS:  cfg.AllowedCIDRS,
		TrustProxy:    cfg.TrustProxy,
		KubeClient:    kubeClient,
		RecordIndex:   recordIndex,
		Store:         store,
		ResyncTrigger: resyncTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		store:       store,
		recordIndex: recordIndex,
		watcher:     watcher,
		reconciler:  rec,
		resyncer:    resyncer,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting avahi-advertiser v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("avahi-advertiser %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the reconciler before the watcher so the first sync event
	// has a consumer
	if err := a.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	// Start the watcher (initial list + watch stream)
	if err := a.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	a.logger.Info("service watcher started",
		logger.Duration("retry_interval", a.cfg.RetryInterval))

	// Start periodic resync
	if err := a.resyncer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start resyncer: %w", err)
	}
	a.logger.Info("resyncer started",
		logger.Duration("interval", a.cfg.ResyncInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	// Stop the feeders first. The watcher closes the event queue, the
	// reconciler drains it and finishes any in-flight surface write.
	a.resyncer.Stop()
	a.watcher.Stop()

	select {
	case <-a.reconciler.Done():
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("reconciler did not drain in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warnf("failed to close avahi store: %v", err)
	} else {
		a.logger.Info("✅ Avahi store closed cleanly")
	}

	a.logger.Info("✅ avahi-advertiser stopped cleanly")
	return nil
}
