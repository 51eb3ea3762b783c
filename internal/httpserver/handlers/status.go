package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/anklab/avahi-advertiser/internal/httpserver/deps"
)

type componentStatus struct {
	OK    bool   `json:"ok"`
	Count *int   `json:"count,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Error string `json:"error,omitempty"`
}

type statusResponse struct {
	Mode         string                     `json:"mode"`
	LastFullSync string                     `json:"last_full_sync"`
	Components   map[string]componentStatus `json:"components"`
}

// Status reports per-component health: the Kubernetes API, both Avahi
// surfaces and the applied record count.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		lastSync := d.RecordIndex.LastFullSync()
		lastSyncStr := "never"
		if !lastSync.IsZero() {
			lastSyncStr = lastSync.Format("2006-01-02 15:04:05")
		}

		hosts, services := d.RecordIndex.CountByKind()
		recordCount := hosts + services

		components := map[string]componentStatus{
			"kubernetes":   checkKubernetes(d),
			"hosts_file":   checkHostsFile(d),
			"services_dir": checkServicesDir(d),
			"records":      {OK: true, Count: &recordCount},
		}

		response := statusResponse{
			Mode:         determineMode(components, lastSync),
			LastFullSync: lastSyncStr,
			Components:   components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func determineMode(components map[string]componentStatus, lastSync time.Time) string {
	// Nothing applied yet = still starting
	if lastSync.IsZero() {
		return "starting"
	}

	// Any broken component degrades the advertiser but never stops it
	for _, c := range components {
		if !c.OK {
			return "degraded"
		}
	}

	return "nominal"
}

func checkKubernetes(d deps.Deps) componentStatus {
	if d.KubeClient == nil {
		return componentStatus{
			OK:    false,
			Error: "client not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := d.KubeClient.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return componentStatus{
			OK:    false,
			Error: err.Error(),
		}
	}

	return componentStatus{
		OK:   true,
		Mode: "watching",
	}
}

func checkHostsFile(d deps.Deps) componentStatus {
	entries, err := d.Store.ScanHosts()
	if err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	n := len(entries)
	return componentStatus{OK: true, Count: &n}
}

func checkServicesDir(d deps.Deps) componentStatus {
	files, err := d.Store.ScanServiceFiles()
	if err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	n := len(files)
	return componentStatus{OK: true, Count: &n}
}
