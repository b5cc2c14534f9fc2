package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the formatted message.
func New(format string, a ...interface{}) error {
	if len(a) == 0 {
		return goerrors.New(format)
	}
	return fmt.Errorf(format, a...)
}

// contextError annotates an error with a description of what was being done
// when it occurred. The resulting message reads like a stack of verbs, e.g.
// "mirror: copy: open destination: permission denied".
type contextError struct {
	err     error
	context string
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// WithContext wraps `err` with `context`. It returns nil if `err` is nil so
// that it can be used directly in return statements.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{err: err, context: context}
}

// FriendlyError is an error whose message is meant to be shown directly to
// the operator, without the context chain.
type FriendlyError struct {
	template string
	args     []interface{}
}

// NewFriendlyError creates a FriendlyError from a printf style template.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{template: template, args: args}
}

func (err FriendlyError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage returns the formatted message.
func (err FriendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.template, err.args...)
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// RootCause returns the innermost error by stripping away any context.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// GetPrintableMessage returns the message that should be shown to the
// operator for `err`. If any error in the chain has a friendly message, that
// message is used. Otherwise, the full error string is returned.
func GetPrintableMessage(err error) string {
	var friendly friendlyMessager
	if goerrors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}

// Is and As are re-exported so that callers only need to import this package.
var (
	Is = goerrors.Is
	As = goerrors.As
)
