package document

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/inksight/inksync/internal/device"
)

// PathFilter excludes store-relative paths matching any of a set of
// doublestar globs.
type PathFilter struct {
	patterns []string
}

func NewPathFilter(patterns []string) (*PathFilter, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &PathFilter{patterns: patterns}, nil
}

// Excluded reports whether the path matches any exclude pattern.
func (f *PathFilter) Excluded(rel string) bool {
	if f == nil {
		return false
	}
	for _, p := range f.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Apply returns the files that survive the filter.
func (f *PathFilter) Apply(files []device.RemoteFile) []device.RemoteFile {
	if f == nil || len(f.patterns) == 0 {
		return files
	}
	kept := files[:0:0]
	for _, file := range files {
		if !f.Excluded(file.Path) {
			kept = append(kept, file)
		}
	}
	return kept
}
