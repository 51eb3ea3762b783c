package deps

import (
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/anklab/avahi-advertiser/internal/index"
	"github.com/anklab/avahi-advertiser/internal/logger"
	"github.com/anklab/avahi-advertiser/internal/store/avahi"
)

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time     // for testing, defaults to time.Now
	AllowedHosts  []string             // Host headers allowed to access the server
	AllowedCIDRS  []string             // IPs allowed to access operational endpoints
	TrustProxy    bool                 // true if a trusted reverse proxy fronts the server
	KubeClient    kubernetes.Interface // Kubernetes API client, probed by the status endpoint
	RecordIndex   *index.RecordIndex   // applied advertisement records
	Store         *avahi.Store         // Avahi surface reader/writer
	ResyncTrigger chan struct{}        // Channel to trigger a manual full resync
}
