package util

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/ship/pkg/errors"
)

// Mocked out for unit testing.
var exit = os.Exit

// HandleFatalError logs the error and exits. Errors that carry a friendly
// message are printed without their context chain.
func HandleFatalError(err error) {
	if errors.GetPrintableMessage(err) != err.Error() {
		log.WithError(err).Debug("Fatal error")
	}
	log.Error(errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic recovers from a panic so that it's logged consistently with
// other fatal errors. It must be deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Debug("Panic stack trace")
		HandleFatalError(fmt.Errorf("unexpected panic: %v", r))
	}
}
