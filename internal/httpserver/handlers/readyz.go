package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/anklab/avahi-advertiser/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready        bool   `json:"ready"`
	LastFullSync string `json:"last_full_sync,omitempty"`
}

// Readyz reports ready once the first full sync has been applied, so a
// pod only receives traffic after the surfaces reflect the cluster.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		last := d.RecordIndex.LastFullSync()
		if last.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(readyzResponse{Ready: false})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(readyzResponse{
			Ready:        true,
			LastFullSync: last.Format(time.RFC3339),
		})
	}
}
