package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/anklab/avahi-advertiser/internal/httpserver/deps"
)

type recordResponse struct {
	Service string   `json:"service"`
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Address string   `json:"address,omitempty"`
	Type    string   `json:"type,omitempty"`
	Port    int32    `json:"port,omitempty"`
	TXT     []string `json:"txt,omitempty"`
}

type recordsResponse struct {
	Count        int              `json:"count"`
	LastFullSync string           `json:"last_full_sync,omitempty"`
	Records      []recordResponse `json:"records"`
}

// Records dumps the applied advertisements, sorted by service ref.
func Records(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		all := d.RecordIndex.All()
		out := recordsResponse{
			Count:   len(all),
			Records: make([]recordResponse, 0, len(all)),
		}
		if last := d.RecordIndex.LastFullSync(); !last.IsZero() {
			out.LastFullSync = last.Format(time.RFC3339)
		}
		for _, rec := range all {
			item := recordResponse{
				Service: rec.Ref.String(),
				Kind:    string(rec.Kind()),
				Name:    rec.Name(),
			}
			if rec.Host != nil {
				item.Address = rec.Host.Address
			}
			if rec.Service != nil {
				item.Type = rec.Service.Type
				item.Port = rec.Service.Port
				for _, txt := range rec.Service.TXT {
					item.TXT = append(item.TXT, txt.Key+"="+txt.Value)
				}
			}
			out.Records = append(out.Records, item)
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(out)
	}
}
