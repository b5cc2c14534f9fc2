package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/ship/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// FileAttributes contains the metadata used to decide whether a destination
// file needs to be overwritten.
type FileAttributes struct {
	// Size is the length of the file in bytes.
	Size int64

	// Mode is the file mode of the file.
	Mode os.FileMode

	// ModTime is the time of the last file modification.
	ModTime time.Time
}

// lstat stats `path` without following a final symlink if the filesystem
// supports it.
func lstat(path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		fi, _, err := lstater.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}

func attributesOf(fi os.FileInfo) FileAttributes {
	return FileAttributes{
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
	}
}

// Equal returns whether the metadata of two files matches. Files with equal
// metadata still need their contents compared.
func (f FileAttributes) Equal(otherFile FileAttributes) bool {
	return f.Size == otherFile.Size &&
		f.Mode == otherFile.Mode &&
		f.ModTime.Equal(otherFile.ModTime)
}

// HashFile returns the sha512 hash of the file at the given path.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}

// matchPattern returns true if `path` is either an exact match, or a child of
// `pattern`.
// For example, `foo`, `foo/bar`, and `foo/bar/baz` match `foo`.
func matchPattern(path string, pattern string) (remaining string, ok bool) {
	relativePath, err := filepath.Rel(pattern, path)
	if err != nil || relativePath == ".." ||
		strings.HasPrefix(relativePath, ".."+string(filepath.Separator)) {
		return "", false
	}

	if relativePath == "." {
		return "", true
	}
	return relativePath, true
}
