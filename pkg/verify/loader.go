package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/ship/pkg/errors"
)

// Mocked out for unit testing.
var runCommand = (*exec.Cmd).Run

// A Loader attempts to load an entry module from a deployment root.
type Loader interface {
	// Load returns nil if `module` loaded from `root` without raising. A
	// *LoadError is returned if the module itself failed to load. Any other
	// error means the check couldn't be run.
	Load(ctx context.Context, root, module string) error
}

// LoadError is returned when the entry module raised while loading.
type LoadError struct {
	Detail string
}

func (err *LoadError) Error() string {
	return err.Detail
}

// bootstrap is run by the child interpreter. The deployment root is put at
// the front of the search path explicitly rather than relying on the working
// directory. Failures are reported as a single line on stderr.
const bootstrap = `import importlib, sys
root, module = sys.argv[1], sys.argv[2]
sys.path.insert(0, root)
try:
    importlib.import_module(module)
except BaseException as e:
    detail = " ".join((str(e) or type(e).__name__).split())
    sys.stderr.write("ship-load-error: " + detail + "\n")
    sys.exit(1)
`

const loadErrorPrefix = "ship-load-error: "

// SubprocessLoader loads the entry module in a freshly spawned interpreter,
// so that a misbehaving deployment can't affect the ship process.
type SubprocessLoader struct {
	// Interpreter is the interpreter binary, e.g. `python3` or the path to a
	// virtualenv's python.
	Interpreter string
}

// Load implements Loader.
func (l SubprocessLoader) Load(ctx context.Context, root, module string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return errors.WithContext(err, "resolve root")
	}

	var stdout, stderr bytes.Buffer

	// -B keeps the child from writing bytecode caches into the deployment.
	cmd := exec.CommandContext(ctx, l.Interpreter, "-B", "-c", bootstrap, root, module)
	cmd.Dir = root
	cmd.Env = childEnv(os.Environ(), root)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = runCommand(cmd)
	log.WithFields(log.Fields{
		"interpreter": l.Interpreter,
		"root":        root,
		"module":      module,
		"stdout":      truncate(stdout.String(), 512),
	}).Debug("Entry module load finished")

	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return errors.WithContext(ctx.Err(), "load entry module")
	}

	if detail, ok := parseLoadError(stderr.String()); ok {
		return &LoadError{Detail: detail}
	}

	if _, ok := err.(*exec.ExitError); ok {
		// The interpreter died without running the bootstrap's error
		// handler, e.g. on a crash during interpreter startup.
		msg := lastLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return &LoadError{Detail: msg}
	}
	return errors.WithContext(err, "run interpreter")
}

// childEnv returns `environ` without the interpreter's own PYTHON* settings,
// and with PYTHONPATH pointing at the deployment root.
func childEnv(environ []string, root string) []string {
	env := []string{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "PYTHON") {
			env = append(env, kv)
		}
	}
	return append(env, fmt.Sprintf("PYTHONPATH=%s", root))
}

func parseLoadError(stderr string) (string, bool) {
	for _, line := range strings.Split(stderr, "\n") {
		if strings.HasPrefix(line, loadErrorPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, loadErrorPrefix)), true
		}
	}
	return "", false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length] + "..."
}
