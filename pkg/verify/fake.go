package verify

import "context"

// LoadCall records the arguments of a call to FakeLoader.Load.
type LoadCall struct {
	Root, Module string
}

// FakeLoader is a Loader that doesn't spawn anything. It returns Err from
// every call.
type FakeLoader struct {
	Err   error
	Calls []LoadCall
}

// Load implements Loader.
func (l *FakeLoader) Load(_ context.Context, root, module string) error {
	l.Calls = append(l.Calls, LoadCall{Root: root, Module: module})
	return l.Err
}
