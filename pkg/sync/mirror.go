package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/ship/pkg/errors"
)

// Variables mocked for unit testing.
var (
	copyFile   = copyFileImpl
	removeFile = func(path string) error { return fs.Remove(path) }
)

// A Mirrorer makes `dst` an exact copy of `src`, skipping excluded paths.
// The returned error is only non-nil if the mirror couldn't run at all, in
// which case the result's exit code is FatalError.
type Mirrorer interface {
	Mirror(src, dst string, exclusions ExclusionSet) (Result, error)
}

// Native mirrors directories in-process.
type Native struct{}

// NewNative returns a Mirrorer that doesn't depend on any external tools.
func NewNative() Native {
	return Native{}
}

// Mirror implements Mirrorer.
func (Native) Mirror(src, dst string, exclusions ExclusionSet) (Result, error) {
	fatal := func(err error) (Result, error) {
		return Result{ExitCode: FatalError}, err
	}

	for _, root := range []string{src, dst} {
		isDir, err := afero.IsDir(fs, root)
		if err != nil {
			if os.IsNotExist(err) {
				return fatal(errors.FileNotFound{Path: root})
			}
			return fatal(errors.WithContext(err, "stat root"))
		}
		if !isDir {
			return fatal(errors.New("%q is not a directory", root))
		}
	}

	srcSnapshot, err := TakeSource(src, exclusions)
	if err != nil {
		return fatal(errors.WithContext(err, "snapshot source"))
	}

	dstSnapshot, err := TakeDestination(dst, exclusions)
	if err != nil {
		return fatal(errors.WithContext(err, "snapshot destination"))
	}

	toCreate, toCopy, toRemove, err := srcSnapshot.Diff(dstSnapshot)
	if err != nil {
		return fatal(errors.WithContext(err, "diff"))
	}

	var result Result
	removeExtras(dst, toRemove, &result)
	createDirs(dst, toCreate, &result)
	copyFiles(dst, toCopy, &result)
	result.computeExitCode()

	logFields := log.Fields{"exitCode": result.ExitCode}
	for name, paths := range map[string][]string{
		"copied":  result.Copied,
		"removed": result.Removed,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	} {
		if len(paths) > 0 {
			logFields[name] = truncateSlice(paths, 5)
		}
	}
	log.WithFields(logFields).Info("Mirrored files..")
	return result, nil
}

// removeExtras removes the given destination entries, deepest first so that
// directories are emptied before they're removed. Directories aren't removed
// recursively, because they may still hold excluded entries. Those
// directories are left in place.
func removeExtras(dst string, toRemove []Entry, result *Result) {
	sort.Slice(toRemove, func(i, j int) bool {
		return depth(toRemove[i].RelPath) > depth(toRemove[j].RelPath)
	})

	for _, entry := range toRemove {
		path := filepath.Join(dst, entry.RelPath)
		if entry.IsDir {
			empty, err := afero.IsEmpty(fs, path)
			if err == nil && !empty {
				log.WithField("path", entry.RelPath).Debug(
					"Leaving directory that still holds excluded files")
				continue
			}
		}

		// If the remove fails because the file doesn't exist, the error is
		// benign. The service most likely removed it itself.
		err := removeFile(path)
		switch {
		case err == nil || os.IsNotExist(err):
			result.Removed = append(result.Removed, entry.RelPath)
		case isInUse(err):
			log.WithError(err).WithField("path", entry.RelPath).Warn(
				"Extra file is in use and wasn't removed")
			result.Skipped = append(result.Skipped, entry.RelPath)
		default:
			log.WithError(err).WithField("path", entry.RelPath).Error(
				"Failed to remove extra file")
			result.Failed = append(result.Failed, entry.RelPath)
		}
	}
}

// createDirs creates the given directories, shallowest first.
func createDirs(dst string, toCreate []Entry, result *Result) {
	sort.Slice(toCreate, func(i, j int) bool {
		return depth(toCreate[i].RelPath) < depth(toCreate[j].RelPath)
	})

	for _, entry := range toCreate {
		if refuseLink(dst, entry, result) {
			continue
		}

		path := filepath.Join(dst, entry.RelPath)
		if err := fs.MkdirAll(path, entry.Mode.Perm()|0700); err != nil {
			log.WithError(err).WithField("path", entry.RelPath).Error(
				"Failed to create directory")
			result.Failed = append(result.Failed, entry.RelPath)
		}
	}
}

func copyFiles(dst string, toCopy []Entry, result *Result) {
	sort.Slice(toCopy, func(i, j int) bool {
		return toCopy[i].RelPath < toCopy[j].RelPath
	})

	for _, entry := range toCopy {
		if refuseLink(dst, entry, result) {
			continue
		}

		err := copyFile(entry.Path, filepath.Join(dst, entry.RelPath))
		switch {
		case err == nil:
			log.WithField("path", entry.RelPath).Debug("Copied file")
			result.Copied = append(result.Copied, entry.RelPath)
		case isInUse(err):
			log.WithError(err).WithField("path", entry.RelPath).Warn(
				"File is in use and wasn't replaced")
			result.Skipped = append(result.Skipped, entry.RelPath)
		default:
			log.WithError(err).WithField("path", entry.RelPath).Error(
				"Failed to copy file")
			result.Failed = append(result.Failed, entry.RelPath)
		}
	}
}

// refuseLink marks the entry as failed if writing it would go through a
// symlink in the destination. That only happens if the symlink couldn't be
// removed.
func refuseLink(dst string, entry Entry, result *Result) bool {
	link, ok := linkInPath(dst, entry.RelPath)
	if !ok {
		return false
	}

	log.WithFields(log.Fields{
		"path": entry.RelPath,
		"link": link,
	}).Error("Refusing to write through a symlink in the destination")
	result.Failed = append(result.Failed, entry.RelPath)
	return true
}

// linkInPath returns the first existing component of `relPath` under `root`,
// including `relPath` itself, that is a symlink.
func linkInPath(root, relPath string) (string, bool) {
	curr := root
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		curr = filepath.Join(curr, part)
		fi, err := lstat(curr)
		if err != nil {
			return "", false
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return curr, true
		}
	}
	return "", false
}

func copyFileImpl(src, dst string) error {
	dstParent := filepath.Dir(dst)
	dstParentExists, err := afero.DirExists(fs, dstParent)
	if err != nil {
		return errors.WithContext(err, "check if parent exists")
	}

	if !dstParentExists {
		if err := fs.MkdirAll(dstParent, 0755); err != nil {
			return errors.WithContext(err, "make parent")
		}
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	dstFile, err := fs.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fileInfo.Mode().Perm())
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return errors.WithContext(err, "copy")
	}

	if err := dstFile.Close(); err != nil {
		return errors.WithContext(err, "close destination")
	}

	if err := fs.Chmod(dst, fileInfo.Mode()); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(dst, time.Now(), fileInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

func depth(relPath string) int {
	return strings.Count(filepath.ToSlash(relPath), "/")
}

// truncateSlice truncates the given slice of strings to the given length. If
// the slice is longer than `length`, a message is appended saying how many
// more items are in the slice.
func truncateSlice(slc []string, length int) (truncated []string) {
	if len(slc) <= length {
		return slc
	}
	msg := fmt.Sprintf("... %d more ...", len(slc)-length)
	return append(append([]string{}, slc[:length]...), msg)
}
