// Package verify implements the deployment's final gate: loading the
// deployed entry module in an isolated process.
//
// Only loadability is certified. An entry module that loads cleanly but
// fails once it starts serving isn't detected.
package verify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/ship/pkg/errors"
)

// Result is the outcome of a verification.
type Result struct {
	OK          bool
	ErrorDetail string
}

// Verifier loads an entry module from a deployment root.
type Verifier struct {
	Loader  Loader
	Root    string
	Module  string
	Timeout time.Duration

	// Out receives the single status line.
	Out io.Writer
}

// StatusLine returns the machine-parsable status for the result.
func (v Verifier) StatusLine(result Result) string {
	if result.OK {
		return fmt.Sprintf("OK: imported %s", v.Module)
	}
	return fmt.Sprintf("FAIL: exception importing %s: %s", v.Module, result.ErrorDetail)
}

// Verify attempts the load and writes exactly one status line to Out.
func (v Verifier) Verify(ctx context.Context) Result {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	logger := log.WithFields(log.Fields{"root": v.Root, "module": v.Module})
	logger.Info("Verifying entry module loads..")

	result := Result{OK: true}
	if err := v.Loader.Load(ctx, v.Root, v.Module); err != nil {
		result = Result{ErrorDetail: detail(err)}
		logger.WithError(err).Error("Entry module failed to load")
	}

	fmt.Fprintln(v.Out, v.StatusLine(result))
	return result
}

// detail flattens the error to a single line so that the status stays
// parsable.
func detail(err error) string {
	msg := err.Error()
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		msg = loadErr.Detail
	}
	return strings.Join(strings.Fields(msg), " ")
}
