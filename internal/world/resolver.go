package world

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EmptyWorld names the built-in world used when no file is given and by the
// new-world command.
const EmptyWorld = "worlds/empty.world"

//go:embed worlds/*.world
var builtin embed.FS

// Resolver locates world files. Relative names are tried against the working
// directory, then each search path, then the built-in worlds.
type Resolver struct {
	paths []string
}

func NewResolver(paths []string) *Resolver {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, filepath.Clean(p))
		}
	}
	return &Resolver{paths: cleaned}
}

// Paths returns the search path in lookup order.
func (r *Resolver) Paths() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.paths...)
}

// FindFile returns the first readable match for name. Built-in worlds resolve
// to their embedded name. The second result is false when nothing matched.
func (r *Resolver) FindFile(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if isFile(name) {
		return name, true
	}
	if r != nil && !filepath.IsAbs(name) {
		for _, dir := range r.paths {
			candidate := filepath.Join(dir, name)
			if isFile(candidate) {
				return candidate, true
			}
		}
	}
	if _, err := fs.Stat(builtin, filepath.ToSlash(name)); err == nil {
		return filepath.ToSlash(name), true
	}
	return "", false
}

// ReadFile resolves name and returns its contents with the resolved path.
func (r *Resolver) ReadFile(name string) ([]byte, string, error) {
	resolved, ok := r.FindFile(name)
	if !ok {
		return nil, "", &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if isFile(resolved) {
		data, err := os.ReadFile(resolved)
		return data, resolved, err
	}
	data, err := builtin.ReadFile(resolved)
	if err != nil {
		return nil, "", err
	}
	return data, resolved, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// SplitPathList splits a GAZEBO_RESOURCE_PATH style list.
func SplitPathList(list string) []string {
	if list == "" {
		return nil
	}
	return filepath.SplitList(list)
}

// IsNotExist reports whether err means the world file was not found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
