package sync

import (
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/ship/pkg/errors"
)

// Mocked out for unit testing.
var runCommand = (*exec.Cmd).Run

// Robocopy mirrors directories by shelling out to robocopy. Its exit code
// already follows the flag convention used by Result, so it's passed through
// unchanged.
type Robocopy struct {
	// Path is the robocopy binary. Defaults to looking it up in PATH.
	Path string
}

// Mirror implements Mirrorer.
func (r Robocopy) Mirror(src, dst string, exclusions ExclusionSet) (Result, error) {
	cmd := exec.Command(r.binary(), robocopyArgs(src, dst, exclusions)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := runCommand(cmd)
	if err == nil {
		return Result{ExitCode: NoChange}, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result := Result{ExitCode: exitErr.ExitCode()}
		log.WithField("exitCode", result.ExitCode).Info("Robocopy finished..")
		return result, nil
	}
	return Result{ExitCode: FatalError}, errors.WithContext(err, "run robocopy")
}

func (r Robocopy) binary() string {
	if r.Path != "" {
		return r.Path
	}
	return "robocopy"
}

func robocopyArgs(src, dst string, exclusions ExclusionSet) []string {
	// Retry locked files once rather than robocopy's default of a million
	// times, so that in-use files are reported instead of hanging the run.
	args := []string{src, dst, "/MIR", "/R:1", "/W:1", "/NP"}
	if len(exclusions) == 0 {
		return args
	}

	// Robocopy matches /XD against directory names and /XF against file
	// names, so each pattern is passed to both.
	args = append(args, "/XD")
	args = append(args, exclusions...)
	args = append(args, "/XF")
	args = append(args, exclusions...)
	return args
}
