/*
The sync package implements the mirror step of a deployment. It makes a
destination directory an exact copy of a source directory:

1) Files and directories that only exist in the source are created.
2) Files and directories that only exist in the destination are removed.
3) Files whose contents, mode, or modification time differ are overwritten.

Paths matched by the ExclusionSet are skipped on both sides. They're never
copied from the source, and never inspected or removed in the destination, so
things like the service's log directory or virtualenv survive a deploy.

The outcome of a mirror is reported as a robocopy-style exit code. Anything
below FailureThreshold is a success, which includes runs where some files were
skipped because another process held them open.
*/
package sync
