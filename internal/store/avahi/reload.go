package avahi

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/anklab/avahi-advertiser/internal/logger"
)

// Reloader asks the local Avahi daemon to pick up surface changes.
type Reloader interface {
	Reload(ctx context.Context) error
	Close() error
}

// NoopReloader stands in when reload is disabled or no system bus is
// reachable. Avahi notices service-file changes on its own; only hosts
// entries then wait for its next restart.
type NoopReloader struct{}

func (NoopReloader) Reload(context.Context) error { return nil }
func (NoopReloader) Close() error                 { return nil }

// SystemdReloader reloads a unit over the system D-Bus, equivalent to
// "systemctl reload <unit>".
type SystemdReloader struct {
	conn *dbus.Conn
	unit string
	log  logger.Logger
}

// NewSystemdReloader connects to the system bus.
func NewSystemdReloader(ctx context.Context, unit string, log logger.Logger) (*SystemdReloader, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &SystemdReloader{conn: conn, unit: unit, log: log}, nil
}

// Reload requests a unit reload and waits for the job to finish.
func (r *SystemdReloader) Reload(ctx context.Context) error {
	done := make(chan string, 1)
	if _, err := r.conn.ReloadUnitContext(ctx, r.unit, "replace", done); err != nil {
		return fmt.Errorf("failed to request reload of %s: %w", r.unit, err)
	}

	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("reload of %s finished with result %q", r.unit, result)
		}
		r.log.Debug("unit reloaded", logger.String("unit", r.unit))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reload of %s did not finish in time: %w", r.unit, ctx.Err())
	}
}

// Close closes the bus connection.
func (r *SystemdReloader) Close() error {
	r.conn.Close()
	return nil
}
