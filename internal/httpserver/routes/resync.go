package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/anklab/avahi-advertiser/internal/httpserver/deps"
	"github.com/anklab/avahi-advertiser/internal/httpserver/handlers"
	"github.com/anklab/avahi-advertiser/internal/httpserver/mw"
)

func init() { Register(registerResync) }

func registerResync(r chi.Router, d deps.Deps) {
	rl := mw.RateLimit(mw.RateLimitConfig{
		Burst:             3,
		RefillPerIPPerMin: 6,
		MaxEntries:        1024,
		SweepInterval:     time.Minute,
		IdleTTL:           15 * time.Minute,
		TrustProxy:        d.TrustProxy,
	})
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger), rl).Post("/resync", handlers.Resync(d))
}
