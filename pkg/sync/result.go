package sync

import "fmt"

// Exit code flags. A mirror outcome is the bitwise OR of every flag that
// applies, following the convention established by robocopy.
const (
	// NoChange means the destination already matched the source.
	NoChange = 0

	// FilesCopied means at least one file was copied.
	FilesCopied = 1

	// ExtrasRemoved means at least one entry that only existed in the
	// destination was removed.
	ExtrasRemoved = 2

	// FilesSkipped means at least one file couldn't be replaced because it
	// was in use.
	FilesSkipped = 4

	// CopyFailed means at least one file or directory couldn't be
	// synchronized.
	CopyFailed = 8

	// FatalError means the mirror couldn't run at all, e.g. because the
	// source was unreadable.
	FatalError = 16
)

// FailureThreshold is the lowest exit code that's classified as a failure.
const FailureThreshold = CopyFailed

// Classification is the interpretation of a mirror exit code.
type Classification int

const (
	Success Classification = iota
	PartialSuccessWithSkips
	Failure
)

func (c Classification) String() string {
	switch c {
	case Success:
		return "Success"
	case PartialSuccessWithSkips:
		return "PartialSuccessWithSkips"
	case Failure:
		return "Failure"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Classify converts a raw exit code into a Classification. Codes below
// FailureThreshold are successes, even when some files were skipped.
func Classify(exitCode int) Classification {
	switch {
	case exitCode < 0 || exitCode >= FailureThreshold:
		return Failure
	case exitCode&FilesSkipped != 0:
		return PartialSuccessWithSkips
	default:
		return Success
	}
}

// Result is the outcome of a single mirror run.
type Result struct {
	ExitCode int

	// The paths, relative to the mirror root, affected by each kind of
	// operation. They're only populated by the native mirror.
	Copied  []string
	Removed []string
	Skipped []string
	Failed  []string
}

// Classification returns the classification of the result's exit code.
func (r Result) Classification() Classification {
	return Classify(r.ExitCode)
}

// OK returns whether the run should continue to the start phase.
func (r Result) OK() bool {
	return r.Classification() != Failure
}

func (r Result) String() string {
	return fmt.Sprintf("%d %s", r.ExitCode, r.Classification())
}

func (r *Result) computeExitCode() {
	r.ExitCode = NoChange
	if len(r.Copied) > 0 {
		r.ExitCode |= FilesCopied
	}
	if len(r.Removed) > 0 {
		r.ExitCode |= ExtrasRemoved
	}
	if len(r.Skipped) > 0 {
		r.ExitCode |= FilesSkipped
	}
	if len(r.Failed) > 0 {
		r.ExitCode |= CopyFailed
	}
}
