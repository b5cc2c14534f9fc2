// Package service controls the OS-managed service that a deployment
// replaces the files of. Services are only ever stopped, started, and
// inspected. They're never installed or configured.
package service

import (
	"context"
	"fmt"
	"strings"
)

// State is the observable run state of a service.
type State int

const (
	NotFound State = iota
	Stopped
	Running
)

func (s State) String() string {
	switch s {
	case NotFound:
		return "NotFound"
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager is the capability the deploy engine needs from the OS service
// manager.
type Manager interface {
	Status(ctx context.Context, name string) (State, error)
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

// unitName appends the `.service` suffix if the name doesn't already have a
// unit type.
func unitName(name string) string {
	for _, suffix := range []string{".service", ".socket", ".target", ".timer", ".scope"} {
		if strings.HasSuffix(name, suffix) {
			return name
		}
	}
	return name + ".service"
}

// stateFromUnit maps systemd's load and active states onto State.
func stateFromUnit(loadState, activeState string) State {
	if loadState == "not-found" {
		return NotFound
	}

	switch activeState {
	case "active", "activating", "reloading", "deactivating":
		return Running
	default:
		return Stopped
	}
}
