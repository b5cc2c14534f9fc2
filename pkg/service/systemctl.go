package service

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sidkik/ship/pkg/errors"
)

// Mocked out for unit testing.
var runCommand = (*exec.Cmd).Run

// Systemctl controls services by invoking the systemctl binary. It's the
// lower-level fallback for when the D-Bus API isn't reachable.
type Systemctl struct {
	// Path is the systemctl binary. Defaults to looking it up in PATH.
	Path string
}

// Status implements Manager.
func (s Systemctl) Status(ctx context.Context, name string) (State, error) {
	out, err := s.run(ctx, "show", unitName(name), "--property=LoadState", "--property=ActiveState")
	if err != nil {
		return NotFound, err
	}

	props := parseProperties(out)
	return stateFromUnit(props["LoadState"], props["ActiveState"]), nil
}

// Stop implements Manager.
func (s Systemctl) Stop(ctx context.Context, name string) error {
	_, err := s.run(ctx, "stop", unitName(name))
	return err
}

// Start implements Manager.
func (s Systemctl) Start(ctx context.Context, name string) error {
	_, err := s.run(ctx, "start", unitName(name))
	return err
}

func (s Systemctl) run(ctx context.Context, args ...string) ([]byte, error) {
	binary := s.Path
	if binary == "" {
		binary = "systemctl"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := runCommand(cmd); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not loaded") || strings.Contains(msg, "not found") {
			return nil, ErrNotFound
		}
		if msg != "" {
			return nil, errors.WithContext(errors.New(msg), "systemctl "+args[0])
		}
		return nil, errors.WithContext(err, "systemctl "+args[0])
	}
	return stdout.Bytes(), nil
}

// parseProperties parses the KEY=VALUE lines printed by `systemctl show`.
func parseProperties(out []byte) map[string]string {
	props := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok {
			props[key] = value
		}
	}
	return props
}
