package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	HostsFile   string // path to the Avahi hosts file
	ServicesDir string // path to the Avahi services directory

	ReloadEnabled bool          // false => never touch avahi-daemon
	ReloadUnit    string        // systemd unit to reload (ex: "avahi-daemon.service")
	ReloadTimeout time.Duration // timeout per reload call (default: 10s)

	ResyncInterval time.Duration // interval between periodic full re-lists (default: 5m)
	RetryInterval  time.Duration // wait before retrying a failed list or watch (default: 5s)
	Kubeconfig     string        // optional kubeconfig path for out-of-cluster runs

	// Kubernetes connector
	KubeConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	KubeRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	KubeMaxWait        time.Duration // max wait between retries (ex: 10s)
	KubePingTimeout    time.Duration // timeout for each probe attempt (ex: 5s)
	KubeWarnThreshold  int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (local reverse proxy)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("ADVERTISER_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("ADVERTISER_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		PrettyLog: mustBool("ADVERTISER_PRETTY_LOG", false),

		// Avahi surfaces
		HostsFile:   getenv("AVAHI_HOSTS_FILE", "/etc/avahi/hosts"),
		ServicesDir: getenv("AVAHI_SERVICES_DIR", "/etc/avahi/services"),

		ReloadEnabled: mustBool("AVAHI_RELOAD_ENABLED", true),
		ReloadUnit:    getenv("AVAHI_RELOAD_UNIT", "avahi-daemon.service"),
		ReloadTimeout: mustDuration("AVAHI_RELOAD_TIMEOUT", 10*time.Second),

		// Cluster watch
		ResyncInterval: mustDuration("ADVERTISER_RESYNC_INTERVAL", 5*time.Minute),
		RetryInterval:  mustDuration("ADVERTISER_RETRY_INTERVAL", 5*time.Second),
		Kubeconfig:     getenv("ADVERTISER_KUBECONFIG", ""),

		// Kubernetes connector settings
		KubeConnectTimeout: mustDuration("KUBE_CONNECT_TIMEOUT", 30*time.Second),
		KubeRetryInterval:  mustDuration("KUBE_RETRY_INTERVAL", 2*time.Second),
		KubeMaxWait:        mustDuration("KUBE_MAX_WAIT", 10*time.Second),
		KubePingTimeout:    mustDuration("KUBE_PING_TIMEOUT", 5*time.Second),
		KubeWarnThreshold:  getenvInt("KUBE_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("ADVERTISER_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("ADVERTISER_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("ADVERTISER_TRUST_PROXY", false),
	}

	if cfg.ResyncInterval <= 0 {
		panic("❌ FATAL: ADVERTISER_RESYNC_INTERVAL must be > 0")
	}
	if cfg.RetryInterval <= 0 {
		panic("❌ FATAL: ADVERTISER_RETRY_INTERVAL must be > 0")
	}
	if cfg.ReloadTimeout <= 0 {
		panic("❌ FATAL: AVAHI_RELOAD_TIMEOUT must be > 0")
	}

	// Log config only in debug mode
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", *cfg)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
