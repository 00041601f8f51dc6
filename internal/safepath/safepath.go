// Package safepath validates vault-relative asset paths before they
// touch the local filesystem. Asset identifiers come from catalog
// listings and remote indexes, so a hostile or corrupt source must not
// be able to name a destination outside the vault root.
package safepath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks a relative path that would escape its root or
// contains bytes no real asset path carries.
var ErrUnsafePath = errors.New("unsafe path")

// Check reports whether rel is safe to join under a root directory.
// Empty paths, absolute paths, parent traversal in either separator
// style, and null bytes are all rejected.
func Check(rel string) error {
	switch {
	case rel == "":
		return fmt.Errorf("%w: empty path", ErrUnsafePath)
	case containsNull(rel):
		return fmt.Errorf("%w: null byte in %q", ErrUnsafePath, rel)
	case isAbsolute(rel):
		return fmt.Errorf("%w: absolute path %q", ErrUnsafePath, rel)
	case containsTraversal(rel):
		return fmt.Errorf("%w: parent traversal in %q", ErrUnsafePath, rel)
	}
	return nil
}

// Join validates rel and returns it joined under root.
func Join(root, rel string) (string, error) {
	if err := Check(rel); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

func containsNull(path string) bool {
	return strings.ContainsRune(path, 0)
}

// containsTraversal looks for a ".." component under either separator,
// covering indexes written on a different platform.
func containsTraversal(path string) bool {
	normalized := strings.ReplaceAll(path, `\`, "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func isAbsolute(path string) bool {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return true
	}
	// Drive-letter paths are absolute no matter which platform checks.
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return filepath.IsAbs(path)
}
