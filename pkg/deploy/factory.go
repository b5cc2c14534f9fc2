package deploy

import (
	"context"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/ship/pkg/config"
	"github.com/sidkik/ship/pkg/service"
	"github.com/sidkik/ship/pkg/sync"
)

// Mocked out for unit testing.
var connectSystemd = func(ctx context.Context) (systemdManager, error) {
	return service.NewSystemd(ctx)
}

type systemdManager interface {
	service.Manager
	Close()
}

// New builds an Engine from the configuration. The returned function
// releases the service manager connection.
func New(ctx context.Context, cfg config.Deploy) (Engine, func()) {
	engine := Engine{
		Config: cfg,
		Clock:  clockwork.NewRealClock(),
	}

	switch cfg.MirrorTool {
	case config.MirrorRobocopy:
		engine.Mirrorer = sync.Robocopy{}
	default:
		engine.Mirrorer = sync.NewNative()
	}

	cleanup := func() {}
	systemctl := service.Systemctl{}
	switch cfg.ServiceManager {
	case config.ServiceManagerSystemctl:
		engine.Services = systemctl
	default:
		systemd, err := connectSystemd(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to connect to systemd over D-Bus. " +
				"Falling back to systemctl.")
			engine.Services = systemctl
			break
		}
		engine.Services = systemd
		engine.Fallback = systemctl
		cleanup = systemd.Close
	}
	return engine, cleanup
}
