// Package scanner walks a working tree honoring gitignore rules and renders
// compact, deterministic representations of the result.
package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrInvalidRoot is returned when the scan root does not exist or is not a
// directory.
var ErrInvalidRoot = errors.New("invalid scan root")

// PathInfo is one entry of a scan: a slash-separated path relative to the
// root and its kind.
type PathInfo struct {
	RelPath string
	IsDir   bool
}

// alwaysSkipped are tree entries never worth surfacing to the model.
var alwaysSkipped = map[string]bool{
	".git": true,
}

// Scan walks root depth-first, lexically ordered per directory, filtering
// through the repository's .gitignore.
func Scan(root string) ([]PathInfo, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoot, root)
	}
	matcher := LoadIgnore(root)
	return ScanWith(root, matcher)
}

// ScanWith is Scan with an explicit ignore matcher.
func ScanWith(root string, matcher *IgnoreMatcher) ([]PathInfo, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoot, root)
	}

	var out []PathInfo
	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if alwaysSkipped[entry.Name()] {
				continue
			}
			childRel := entry.Name()
			if rel != "" {
				childRel = rel + "/" + entry.Name()
			}
			isDir := entry.IsDir()
			if matcher.Match(childRel, isDir) {
				continue
			}
			out = append(out, PathInfo{RelPath: childRel, IsDir: isDir})
			if isDir {
				if err := walk(filepath.Join(dir, entry.Name()), childRel); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// CountFiles returns the number of non-directory entries in a scan.
func CountFiles(paths []PathInfo) int {
	n := 0
	for _, p := range paths {
		if !p.IsDir {
			n++
		}
	}
	return n
}
