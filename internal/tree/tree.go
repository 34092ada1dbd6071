package tree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Level is one named tier of the tree. Every folder of a level is created
// under every path of the previous level.
type Level struct {
	Name    string
	Folders []string
}

// Spec describes a directory tree rooted at Root.
type Spec struct {
	Root   string
	Levels []Level
}

// StorageError wraps a filesystem failure during tree construction.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type Builder struct {
	fs afero.Fs
}

func NewBuilder(fs afero.Fs) *Builder {
	return &Builder{fs: fs}
}

// Build creates the tree and returns the root path. With reset set an
// existing root is removed first; otherwise existing directories are left
// untouched.
func (b *Builder) Build(spec Spec, reset bool) (string, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}
	root := filepath.Clean(spec.Root)

	if reset {
		exists, err := afero.DirExists(b.fs, root)
		if err != nil {
			return "", &StorageError{Op: "stat", Path: root, Err: err}
		}
		if exists {
			if err := b.fs.RemoveAll(root); err != nil {
				return "", &StorageError{Op: "remove", Path: root, Err: err}
			}
		}
	}
	if err := b.fs.MkdirAll(root, 0o755); err != nil {
		return "", &StorageError{Op: "mkdir", Path: root, Err: err}
	}

	paths := []string{root}
	for i := 0; i < len(spec.Levels); i++ {
		folders := spec.Levels[i].Folders
		next := make([]string, 0, len(paths)*len(folders))
		for _, folder := range folders {
			for _, base := range paths {
				p := filepath.Join(base, folder)
				if err := b.mkdir(p); err != nil {
					return "", err
				}
				next = append(next, p)
			}
		}
		paths = next
	}
	return root, nil
}

func (b *Builder) mkdir(path string) error {
	info, err := b.fs.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return &StorageError{Op: "mkdir", Path: path, Err: fmt.Errorf("exists and is not a directory")}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return &StorageError{Op: "stat", Path: path, Err: err}
	}
	if err := b.fs.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return &StorageError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.Root) == "" {
		return fmt.Errorf("tree root is required")
	}
	for i, l := range s.Levels {
		for _, f := range l.Folders {
			if f == "" || f == "." || f == ".." || strings.ContainsRune(f, '/') || strings.ContainsRune(f, filepath.Separator) {
				return fmt.Errorf("level %d (%s): invalid folder name %q", i, l.Name, f)
			}
		}
	}
	return nil
}
