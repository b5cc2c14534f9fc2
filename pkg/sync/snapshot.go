package sync

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/ship/pkg/errors"
)

// An Entry is a file, directory or symlink found while walking a mirror root.
type Entry struct {
	// RelPath is the path of the entry relative to the root it was found in.
	// It's the key used to match entries between the source and destination.
	RelPath string

	// Path is the path that can be opened by the ship process.
	Path string

	IsDir bool

	// IsSymlink is only set for destination entries. Destination symlinks
	// are never followed, and are replaced by whatever the source holds.
	IsSymlink bool

	FileAttributes
}

// Snapshot is a collection of all the non-excluded entries under a root,
// keyed by RelPath.
type Snapshot map[string]Entry

// TakeSource walks the source `root` and records every entry that isn't
// excluded. Symlinks to files are recorded as the files they point to.
// Symlinks to directories and broken symlinks are skipped.
func TakeSource(root string, exclusions ExclusionSet) (Snapshot, error) {
	return take(root, exclusions, true)
}

// TakeDestination walks the destination `root` and records every entry that
// isn't excluded. Symlinks are recorded as themselves.
func TakeDestination(root string, exclusions ExclusionSet) (Snapshot, error) {
	return take(root, exclusions, false)
}

func take(root string, exclusions ExclusionSet, followLinks bool) (Snapshot, error) {
	// A trailing separator makes the walk resolve a symlinked root.
	walkRoot := root
	if fi, err := lstat(root); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		walkRoot = root + string(filepath.Separator)
	}

	snapshot := Snapshot{}
	err := afero.Walk(fs, walkRoot, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path == walkRoot {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WithContext(err, "normalize path")
		}
		if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
			return errors.New("%q is outside of %q", path, root)
		}

		if exclusions.Excludes(relPath) {
			log.WithField("path", relPath).Debug("Skipping excluded path")
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entry := Entry{RelPath: relPath, Path: path}
		if fi.Mode()&os.ModeSymlink != 0 {
			if !followLinks {
				entry.IsSymlink = true
				entry.FileAttributes = attributesOf(fi)
				snapshot[relPath] = entry
				return nil
			}

			target, err := fs.Stat(path)
			if err != nil {
				log.WithError(err).WithField("path", path).Warn(
					"Skipping broken symlink")
				return nil
			}
			if target.IsDir() {
				log.WithField("path", path).Warn(
					"Skipping symlink to directory. Its contents won't be mirrored.")
				return nil
			}
			fi = target
		}

		entry.IsDir = fi.IsDir()
		entry.FileAttributes = attributesOf(fi)
		snapshot[relPath] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Diff returns the operations necessary to make `dst` an exact mirror of
// `src`.
// * Directories that only exist in src should be created.
// * Files that are new, or whose metadata or contents changed, should be copied.
// * Entries that only exist in dst, whose type changed, or that are symlinks
//   in dst, should be removed.
func (src Snapshot) Diff(dst Snapshot) (toCreate []Entry, toCopy []Entry, toRemove []Entry, err error) {
	for _, exp := range src {
		curr, ok := dst[exp.RelPath]
		if ok && (curr.IsSymlink || curr.IsDir != exp.IsDir) {
			toRemove = append(toRemove, curr)
			ok = false
		}

		if exp.IsDir {
			if !ok {
				toCreate = append(toCreate, exp)
			}
			continue
		}

		if !ok {
			toCopy = append(toCopy, exp)
			continue
		}

		same, err := sameFile(exp, curr)
		if err != nil {
			return nil, nil, nil, errors.WithContext(err, "compare "+exp.RelPath)
		}
		if !same {
			toCopy = append(toCopy, exp)
		}
	}

	for _, curr := range dst {
		if _, ok := src[curr.RelPath]; !ok {
			toRemove = append(toRemove, curr)
		}
	}
	return
}

func sameFile(src, dst Entry) (bool, error) {
	if !src.FileAttributes.Equal(dst.FileAttributes) {
		return false, nil
	}

	srcHash, err := HashFile(src.Path)
	if err != nil {
		return false, errors.WithContext(err, "hash source")
	}

	dstHash, err := HashFile(dst.Path)
	if err != nil {
		return false, errors.WithContext(err, "hash destination")
	}
	return srcHash == dstHash, nil
}
