// Package deploy sequences a deployment against a single target: stop the
// service, mirror the source tree onto the destination, and start the
// service again.
//
// Deployments aren't locked. Callers must make sure that only one deployment
// runs against a target at a time.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/ship/pkg/config"
	"github.com/sidkik/ship/pkg/errors"
	"github.com/sidkik/ship/pkg/service"
	"github.com/sidkik/ship/pkg/source"
	"github.com/sidkik/ship/pkg/sync"
)

// Mocked out for unit testing.
var (
	fs          = afero.NewOsFs()
	revisionFor = source.Revision
)

// MirrorError is returned when the mirror outcome is classified as a
// failure. The destination may be left partially synchronized.
type MirrorError struct {
	ExitCode int

	// Err is set if the mirror couldn't run at all.
	Err error
}

func (err MirrorError) Error() string {
	msg := fmt.Sprintf("mirror failed with exit code %d", err.ExitCode)
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err MirrorError) Unwrap() error {
	return err.Err
}

// Engine runs the sync half of a deployment.
type Engine struct {
	Config   config.Deploy
	Services service.Manager

	// Fallback is tried once if Services fails to start the service. It may
	// be nil.
	Fallback service.Manager

	Mirrorer sync.Mirrorer
	Clock    clockwork.Clock
}

// Run executes the sync sequence. A non-nil error means the deployment
// failed. The returned result is only meaningful once the mirror phase has
// run.
func (e Engine) Run(ctx context.Context) (sync.Result, error) {
	if err := e.Config.Validate(); err != nil {
		return sync.Result{}, errors.WithContext(err, "validate config")
	}

	cfg := e.Config
	logger := log.WithFields(log.Fields{
		"service":     cfg.ServiceName,
		"source":      cfg.SourcePath,
		"destination": cfg.DestinationPath,
	})
	if rev, err := revisionFor(cfg.SourcePath); err == nil {
		logger = logger.WithField("revision", rev)
	} else {
		log.WithError(err).Debug("Failed to get source revision")
	}
	logger.Info("Starting deployment..")

	if err := fs.MkdirAll(cfg.DestinationPath, 0755); err != nil {
		return sync.Result{}, errors.WithContext(err, "create destination")
	}

	if err := e.stopService(ctx); err != nil {
		return sync.Result{}, err
	}

	result, err := e.Mirrorer.Mirror(cfg.SourcePath, cfg.DestinationPath,
		sync.ExclusionSet(cfg.Exclusions()))
	if err != nil {
		log.WithError(err).Error("Mirror couldn't run")
	}

	logger.WithFields(log.Fields{
		"exitCode":       result.ExitCode,
		"classification": result.Classification(),
	}).Info("Mirror finished..")

	if !result.OK() {
		return result, MirrorError{ExitCode: result.ExitCode, Err: err}
	}

	e.startService(ctx)
	return result, nil
}

// stopService stops the service before its files are replaced. A missing
// service isn't an error, since it may be installed or managed out of band.
// Other failures are handled according to the OnStopFailure policy.
func (e Engine) stopService(ctx context.Context) error {
	name := e.Config.ServiceName
	logger := log.WithField("service", name)

	onFailure := func(err error, msg string) error {
		if e.Config.OnStopFailure == config.StopFailureAbort {
			return errors.WithContext(err, "stop service")
		}
		logger.WithError(err).Warn(msg + " Continuing with the mirror anyway.")
		return nil
	}

	state, err := e.Services.Status(ctx, name)
	if err != nil {
		return onFailure(err, "Failed to get service status.")
	}

	switch state {
	case service.NotFound:
		logger.Warn("Service not found. It won't be stopped or started " +
			"until it's installed.")
		return nil
	case service.Stopped:
		logger.Info("Service is already stopped")
		return nil
	}

	logger.Info("Stopping service..")
	if err := e.Services.Stop(ctx, name); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			logger.Warn("Service disappeared before it could be stopped")
			return nil
		}
		return onFailure(err, "Failed to stop service.")
	}

	// Give the OS time to release file handles held by the old process. The
	// mirror still tolerates in-use files if this isn't long enough.
	delay := time.Duration(e.Config.StopDelay)
	logger.WithField("delay", delay).Debug("Waiting for file handles to be released")
	e.Clock.Sleep(delay)
	return nil
}

// startService starts the service after a successful mirror. Failures are
// only logged: the files were delivered, and an operator can start the
// service by hand.
func (e Engine) startService(ctx context.Context) {
	name := e.Config.ServiceName
	logger := log.WithField("service", name)

	logger.Info("Starting service..")
	err := e.Services.Start(ctx, name)
	if err == nil {
		logger.Info("Service started")
		return
	}

	if e.Fallback != nil {
		logger.WithError(err).Info("Failed to start service. Trying fallback..")
		fallbackErr := e.Fallback.Start(ctx, name)
		if fallbackErr == nil {
			logger.Info("Service started by fallback")
			return
		}
		err = errors.WithContext(fallbackErr, "fallback start")
	}

	logger.WithError(err).Warn("Failed to start service. " +
		"The new files were deployed, but the service has to be started manually.")
}
