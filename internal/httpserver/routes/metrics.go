package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anklab/avahi-advertiser/internal/httpserver/deps"
	"github.com/anklab/avahi-advertiser/internal/httpserver/mw"
	"github.com/anklab/avahi-advertiser/internal/metrics"
)

func init() { Register(registerMetrics) }

func registerMetrics(r chi.Router, d deps.Deps) {
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Method(http.MethodGet, "/metrics", metrics.Handler())
}
