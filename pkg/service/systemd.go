package service

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/ship/pkg/errors"
)

// errNoSuchUnit is the D-Bus error returned when acting on a unit that
// doesn't exist.
const errNoSuchUnit = "org.freedesktop.systemd1.NoSuchUnit"

// ErrNotFound is returned when acting on a service that doesn't exist.
var ErrNotFound = errors.New("service not found")

// unitConn is the subset of the go-systemd connection used by Systemd.
type unitConn interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// Systemd controls services through systemd's D-Bus API.
type Systemd struct {
	conn unitConn
}

// NewSystemd connects to the system bus.
func NewSystemd(ctx context.Context) (*Systemd, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, errors.WithContext(err, "connect to systemd")
	}
	return &Systemd{conn: conn}, nil
}

// Close closes the D-Bus connection.
func (s *Systemd) Close() {
	s.conn.Close()
}

// Status implements Manager.
func (s *Systemd) Status(ctx context.Context, name string) (State, error) {
	units, err := s.conn.ListUnitsByNamesContext(ctx, []string{unitName(name)})
	if err != nil {
		return NotFound, errors.WithContext(err, "list units")
	}

	if len(units) == 0 {
		return NotFound, nil
	}
	return stateFromUnit(units[0].LoadState, units[0].ActiveState), nil
}

// Stop implements Manager. It blocks until systemd reports the stop job as
// finished.
func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.runJob(ctx, "stop", name, s.conn.StopUnitContext)
}

// Start implements Manager. It blocks until systemd reports the start job as
// finished.
func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.runJob(ctx, "start", name, s.conn.StartUnitContext)
}

type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

func (s *Systemd) runJob(ctx context.Context, verb, name string, job jobFunc) error {
	unit := unitName(name)
	done := make(chan string, 1)
	if _, err := job(ctx, unit, "replace", done); err != nil {
		if isNoSuchUnit(err) {
			return ErrNotFound
		}
		return errors.WithContext(err, verb+" unit")
	}

	select {
	case result := <-done:
		log.WithFields(log.Fields{
			"unit":   unit,
			"job":    verb,
			"result": result,
		}).Debug("Systemd job finished")
		if result != "done" {
			return errors.New("%s %s: job finished with result %q", verb, unit, result)
		}
		return nil
	case <-ctx.Done():
		return errors.WithContext(ctx.Err(), "wait for "+verb+" job")
	}
}

func isNoSuchUnit(err error) bool {
	var dbusErr godbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == errNoSuchUnit
	}

	var dbusErrPtr *godbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == errNoSuchUnit
	}
	return false
}
