package sync

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/ship/pkg/errors"
)

const (
	srcRoot = "/build/checkout"
	dstRoot = "/srv/app"
)

var testExclusions = ExclusionSet{".git", "__pycache__", "logs", "*.pyc"}

type mockFile struct {
	path     string
	contents string
	mode     os.FileMode
	modTime  time.Time
}

func (f mockFile) writeToFs() error {
	if err := afero.WriteFile(fs, f.path, []byte(f.contents), f.mode); err != nil {
		return err
	}
	return fs.Chtimes(f.path, time.Now(), f.modTime)
}

func randomFile(overrides mockFile) mockFile {
	if overrides.contents == "" {
		overrides.contents = strconv.Itoa(rand.Int())
	}

	if overrides.modTime.IsZero() {
		randomTime := time.Date(2019, 11, 10, rand.Intn(23), rand.Intn(59), rand.Intn(59), 0, time.UTC)
		overrides.modTime = randomTime
	}

	if overrides.mode == 0000 {
		overrides.mode = os.FileMode(0640 | rand.Intn(8))
	}
	return overrides
}

func setupFs(t *testing.T, files ...mockFile) {
	fs = afero.NewMemMapFs()
	copyFile = copyFileImpl
	removeFile = func(path string) error { return fs.Remove(path) }

	require.NoError(t, fs.MkdirAll(srcRoot, 0755))
	require.NoError(t, fs.MkdirAll(dstRoot, 0755))
	for _, f := range files {
		require.NoError(t, f.writeToFs())
	}
}

// listFiles returns the contents of every file under root, keyed by relative
// path.
func listFiles(t *testing.T, root string) map[string]string {
	files := map[string]string{}
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		require.NoError(t, err)
		if fi.IsDir() {
			return nil
		}

		contents, err := afero.ReadFile(fs, path)
		require.NoError(t, err)

		relPath, err := filepath.Rel(root, path)
		require.NoError(t, err)
		files[relPath] = string(contents)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestMirror(t *testing.T) {
	unchanged := randomFile(mockFile{path: srcRoot + "/main.py"})
	unchangedDst := unchanged
	unchangedDst.path = dstRoot + "/main.py"

	changedSrc := randomFile(mockFile{path: srcRoot + "/models/predictor.py", contents: "new"})
	changedDst := changedSrc
	changedDst.path = dstRoot + "/models/predictor.py"
	changedDst.contents = "old"

	touchedSrc := randomFile(mockFile{path: srcRoot + "/config.py"})
	touchedDst := touchedSrc
	touchedDst.path = dstRoot + "/config.py"
	touchedDst.modTime = touchedSrc.modTime.Add(-time.Hour)

	setupFs(t,
		unchanged, unchangedDst,
		changedSrc, changedDst,
		touchedSrc, touchedDst,
		randomFile(mockFile{path: srcRoot + "/models/added.py", contents: "added"}),
		randomFile(mockFile{path: srcRoot + "/.git/HEAD", contents: "ref"}),
		randomFile(mockFile{path: srcRoot + "/models/__pycache__/x.pyc", contents: "bytecode"}),
		randomFile(mockFile{path: dstRoot + "/stale.py", contents: "stale"}),
		randomFile(mockFile{path: dstRoot + "/old/module.py", contents: "stale"}),
		randomFile(mockFile{path: dstRoot + "/logs/bot_debug.log", contents: "log"}),
	)

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, FilesCopied|ExtrasRemoved, result.ExitCode)
	assert.Equal(t, Success, result.Classification())

	assert.Equal(t, map[string]string{
		"main.py":             unchanged.contents,
		"config.py":           touchedSrc.contents,
		"models/predictor.py": "new",
		"models/added.py":     "added",
		"logs/bot_debug.log":  "log",
	}, listFiles(t, dstRoot))

	sort.Strings(result.Removed)
	assert.Equal(t, []string{"old", "old/module.py", "stale.py"}, result.Removed)
	assert.Equal(t, []string{"config.py", "models/added.py", "models/predictor.py"}, result.Copied)

	exists, err := afero.DirExists(fs, dstRoot+"/old")
	require.NoError(t, err)
	assert.False(t, exists)

	// The copied files carry over the source metadata.
	fi, err := fs.Stat(dstRoot + "/config.py")
	require.NoError(t, err)
	assert.Equal(t, touchedSrc.mode, fi.Mode())
	assert.True(t, touchedSrc.modTime.Equal(fi.ModTime()))
}

func TestMirrorIdempotent(t *testing.T) {
	setupFs(t,
		randomFile(mockFile{path: srcRoot + "/main.py"}),
		randomFile(mockFile{path: srcRoot + "/models/a.py"}),
		randomFile(mockFile{path: srcRoot + "/models/deep/b.py"}),
		randomFile(mockFile{path: dstRoot + "/extra.txt"}),
	)

	first, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, FilesCopied|ExtrasRemoved, first.ExitCode)

	second, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, NoChange, second.ExitCode)
	assert.Empty(t, second.Copied)
	assert.Empty(t, second.Removed)
	assert.Equal(t, listFiles(t, srcRoot), listFiles(t, dstRoot))
}

func TestMirrorSameMetadataDifferentContents(t *testing.T) {
	modTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	setupFs(t,
		mockFile{path: srcRoot + "/main.py", contents: "aaaa", mode: 0644, modTime: modTime},
		mockFile{path: dstRoot + "/main.py", contents: "bbbb", mode: 0644, modTime: modTime},
	)

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, FilesCopied, result.ExitCode)
	assert.Equal(t, map[string]string{"main.py": "aaaa"}, listFiles(t, dstRoot))
}

func TestMirrorExcludedDestinationSurvives(t *testing.T) {
	setupFs(t,
		randomFile(mockFile{path: srcRoot + "/main.py"}),
		randomFile(mockFile{path: dstRoot + "/logs/bot_debug.log", contents: "stray"}),
		randomFile(mockFile{path: dstRoot + "/logs/archive/old.log", contents: "older"}),
		randomFile(mockFile{path: dstRoot + "/gone/__pycache__/x.pyc", contents: "cache"}),
	)

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.True(t, result.OK())

	files := listFiles(t, dstRoot)
	assert.Equal(t, "stray", files["logs/bot_debug.log"])
	assert.Equal(t, "older", files["logs/archive/old.log"])

	// The parent directory only held excluded files, so it has to stay.
	assert.Equal(t, "cache", files["gone/__pycache__/x.pyc"])
}

func TestMirrorTypeChange(t *testing.T) {
	setupFs(t,
		randomFile(mockFile{path: srcRoot + "/static", contents: "now a file"}),
		randomFile(mockFile{path: srcRoot + "/models/a.py", contents: "a"}),
		randomFile(mockFile{path: dstRoot + "/static/app.css", contents: "css"}),
		randomFile(mockFile{path: dstRoot + "/models", contents: "was a file"}),
	)

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, FilesCopied|ExtrasRemoved, result.ExitCode)
	assert.Equal(t, map[string]string{
		"static":      "now a file",
		"models/a.py": "a",
	}, listFiles(t, dstRoot))
}

func TestMirrorInUse(t *testing.T) {
	setupFs(t,
		randomFile(mockFile{path: srcRoot + "/main.py"}),
		randomFile(mockFile{path: srcRoot + "/bin/server"}),
	)
	copyFile = func(src, dst string) error {
		if filepath.Base(dst) == "server" {
			return errors.WithContext(&os.PathError{Op: "open", Path: dst, Err: syscall.ETXTBSY},
				"open destination")
		}
		return copyFileImpl(src, dst)
	}

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, FilesCopied|FilesSkipped, result.ExitCode)
	assert.Equal(t, PartialSuccessWithSkips, result.Classification())
	assert.Equal(t, []string{"bin/server"}, result.Skipped)
	assert.True(t, result.OK())
}

func TestMirrorCopyFailure(t *testing.T) {
	setupFs(t, randomFile(mockFile{path: srcRoot + "/main.py"}))
	copyFile = func(src, dst string) error {
		return errors.New("disk full")
	}

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	require.NoError(t, err)
	assert.Equal(t, CopyFailed, result.ExitCode)
	assert.Equal(t, Failure, result.Classification())
	assert.False(t, result.OK())
}

func TestMirrorMissingSource(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(dstRoot, 0755))

	result, err := NewNative().Mirror(srcRoot, dstRoot, testExclusions)
	assert.Equal(t, errors.FileNotFound{Path: srcRoot}, err)
	assert.Equal(t, FatalError, result.ExitCode)
	assert.Equal(t, Failure, result.Classification())
}

func TestCopyFile(t *testing.T) {
	srcPath := "/src/hello/world"
	srcContents := []byte("srcContents")

	dstPath := "/dst/hello/world"

	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, srcPath, srcContents, 0755))
	assert.NoError(t, copyFileImpl(srcPath, dstPath))

	dstContents, err := afero.ReadFile(fs, dstPath)
	assert.NoError(t, err)
	assert.Equal(t, srcContents, dstContents)

	dstFileInfo, err := fs.Stat(dstPath)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), dstFileInfo.Mode())
}

// diskTree returns every entry under root, keyed by relative path. Files map
// to their contents, directories to "dir", and symlinks to "link:<target>".
func diskTree(t *testing.T, root string) map[string]string {
	tree := map[string]string{}
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		require.NoError(t, err)
		if path == root {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		require.NoError(t, err)

		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			require.NoError(t, err)
			tree[relPath] = "link:" + target
		case fi.IsDir():
			tree[relPath] = "dir"
		default:
			contents, err := os.ReadFile(path)
			require.NoError(t, err)
			tree[relPath] = string(contents)
		}
		return nil
	})
	require.NoError(t, err)
	return tree
}

func TestMirrorOnDisk(t *testing.T) {
	type dirs struct {
		src, dst, outside string
	}

	tests := []struct {
		name    string
		setup   func(t *testing.T, d dirs)
		expCode int
		expDst  map[string]string
	}{
		{
			name: "StaleAndExcluded",
			setup: func(t *testing.T, d dirs) {
				writeDisk(t, filepath.Join(d.src, "main.py"), "print('hi')")
				writeDisk(t, filepath.Join(d.src, "models", "moon.py"), "moon")
				writeDisk(t, filepath.Join(d.dst, "stale.py"), "stale")
				writeDisk(t, filepath.Join(d.dst, ".venv", "bin", "python"), "interpreter")
			},
			expCode: FilesCopied | ExtrasRemoved,
			expDst: map[string]string{
				"main.py":          "print('hi')",
				"models":           "dir",
				"models/moon.py":   "moon",
				".venv":            "dir",
				".venv/bin":        "dir",
				".venv/bin/python": "interpreter",
			},
		},
		{
			name: "DestinationSymlinkToFile",
			setup: func(t *testing.T, d dirs) {
				writeDisk(t, filepath.Join(d.src, "settings.py"), "new contents")
				writeDisk(t, filepath.Join(d.outside, "outside.txt"), "precious")
				symlinkDisk(t, filepath.Join(d.outside, "outside.txt"), filepath.Join(d.dst, "settings.py"))
			},
			expCode: FilesCopied | ExtrasRemoved,
			expDst:  map[string]string{"settings.py": "new contents"},
		},
		{
			name: "DestinationSymlinkToDirectory",
			setup: func(t *testing.T, d dirs) {
				writeDisk(t, filepath.Join(d.src, "main.py"), "main")
				writeDisk(t, filepath.Join(d.outside, "keep", "data.txt"), "precious")
				symlinkDisk(t, filepath.Join(d.outside, "keep"), filepath.Join(d.dst, "stray_link"))
			},
			expCode: FilesCopied | ExtrasRemoved,
			expDst:  map[string]string{"main.py": "main"},
		},
		{
			name: "DestinationSymlinkReplacedByDirectory",
			setup: func(t *testing.T, d dirs) {
				writeDisk(t, filepath.Join(d.src, "models", "moon.py"), "moon")
				writeDisk(t, filepath.Join(d.outside, "models", "moon.py"), "precious")
				symlinkDisk(t, filepath.Join(d.outside, "models"), filepath.Join(d.dst, "models"))
			},
			expCode: FilesCopied | ExtrasRemoved,
			expDst: map[string]string{
				"models":         "dir",
				"models/moon.py": "moon",
			},
		},
		{
			name: "BrokenSymlink",
			setup: func(t *testing.T, d dirs) {
				writeDisk(t, filepath.Join(d.src, "main.py"), "main")
				symlinkDisk(t, filepath.Join(d.outside, "missing"), filepath.Join(d.dst, "dangling"))
			},
			expCode: FilesCopied | ExtrasRemoved,
			expDst:  map[string]string{"main.py": "main"},
		},
		{
			name: "DotDotPrefixedNames",
			setup: func(t *testing.T, d dirs) {
				writeDisk(t, filepath.Join(d.src, "..config"), "config")
				writeDisk(t, filepath.Join(d.dst, "..stale"), "stale")
			},
			expCode: FilesCopied | ExtrasRemoved,
			expDst:  map[string]string{"..config": "config"},
		},
	}

	fs = afero.NewOsFs()
	copyFile = copyFileImpl
	removeFile = func(path string) error { return fs.Remove(path) }
	defer func() { fs = afero.NewMemMapFs() }()

	exclusions := ExclusionSet{".venv"}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			d := dirs{src: t.TempDir(), dst: t.TempDir(), outside: t.TempDir()}
			test.setup(t, d)
			outsideBefore := diskTree(t, d.outside)

			result, err := NewNative().Mirror(d.src, d.dst, exclusions)
			require.NoError(t, err)
			assert.Equal(t, test.expCode, result.ExitCode)
			assert.Equal(t, test.expDst, diskTree(t, d.dst))
			assert.Equal(t, outsideBefore, diskTree(t, d.outside))

			again, err := NewNative().Mirror(d.src, d.dst, exclusions)
			require.NoError(t, err)
			assert.Equal(t, NoChange, again.ExitCode)
			assert.Equal(t, test.expDst, diskTree(t, d.dst))
		})
	}
}

func TestMirrorSourceSymlinks(t *testing.T) {
	fs = afero.NewOsFs()
	copyFile = copyFileImpl
	removeFile = func(path string) error { return fs.Remove(path) }
	defer func() { fs = afero.NewMemMapFs() }()

	src, dst, outside := t.TempDir(), t.TempDir(), t.TempDir()
	writeDisk(t, filepath.Join(outside, "shared.py"), "shared")
	writeDisk(t, filepath.Join(outside, "lib", "util.py"), "util")
	symlinkDisk(t, filepath.Join(outside, "shared.py"), filepath.Join(src, "shared.py"))
	symlinkDisk(t, filepath.Join(outside, "lib"), filepath.Join(src, "lib"))
	symlinkDisk(t, filepath.Join(outside, "missing"), filepath.Join(src, "dangling"))

	result, err := NewNative().Mirror(src, dst, ExclusionSet{})
	require.NoError(t, err)
	assert.Equal(t, FilesCopied, result.ExitCode)

	// Symlinked files are deployed as regular files. Symlinked directories
	// and broken links aren't deployed.
	assert.Equal(t, map[string]string{"shared.py": "shared"}, diskTree(t, dst))
}

func TestMirrorSymlinkedRoot(t *testing.T) {
	fs = afero.NewOsFs()
	copyFile = copyFileImpl
	removeFile = func(path string) error { return fs.Remove(path) }
	defer func() { fs = afero.NewMemMapFs() }()

	src, release := t.TempDir(), t.TempDir()
	writeDisk(t, filepath.Join(src, "main.py"), "main")
	writeDisk(t, filepath.Join(release, "stale.py"), "stale")
	dst := filepath.Join(t.TempDir(), "current")
	symlinkDisk(t, release, dst)

	result, err := NewNative().Mirror(src, dst, ExclusionSet{})
	require.NoError(t, err)
	assert.Equal(t, FilesCopied|ExtrasRemoved, result.ExitCode)
	assert.Equal(t, map[string]string{"main.py": "main"}, diskTree(t, release))
}

func TestLinkInPath(t *testing.T) {
	fs = afero.NewOsFs()
	defer func() { fs = afero.NewMemMapFs() }()

	root, outside := t.TempDir(), t.TempDir()
	writeDisk(t, filepath.Join(root, "real", "file.py"), "real")
	symlinkDisk(t, outside, filepath.Join(root, "linked"))

	_, ok := linkInPath(root, filepath.Join("real", "file.py"))
	assert.False(t, ok)

	_, ok = linkInPath(root, filepath.Join("new", "file.py"))
	assert.False(t, ok)

	link, ok := linkInPath(root, filepath.Join("linked", "file.py"))
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "linked"), link)

	result := Result{}
	assert.True(t, refuseLink(root, Entry{RelPath: filepath.Join("linked", "file.py")}, &result))
	assert.Equal(t, []string{filepath.Join("linked", "file.py")}, result.Failed)
}

func writeDisk(t *testing.T, path, contents string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func symlinkDisk(t *testing.T, target, link string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0755))
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks aren't supported: %s", err)
	}
}
