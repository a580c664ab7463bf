// ignore.go implements the .choirignore subset: trailing-slash entries
// match as directory prefixes, everything else is a glob against the
// basename-or-full relative path. Grounded on SPEC_FULL.md's supplemented
// ".choirignore defaults" feature.
package git

import (
	"bufio"
	"os"
	"path"
	"strings"
)

// DefaultPatterns apply when no .choirignore file is present.
var DefaultPatterns = []string{
	"*.log",
	".env",
	".env.*",
	"*.sqlite",
	"*.sqlite-journal",
	"__pycache__/",
	"node_modules/",
	"dist/",
	"build/",
	".context/",
}

// IgnoreSet holds parsed .choirignore patterns and matches normalized
// relative paths against them.
type IgnoreSet struct {
	prefixes []string // directory-prefix patterns (trailing slash)
	globs    []string // fnmatch-style glob patterns
}

// LoadIgnoreFile reads path; if it doesn't exist, DefaultPatterns are used.
func LoadIgnoreFile(filePath string) (*IgnoreSet, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIgnoreSet(DefaultPatterns), nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return NewIgnoreSet(DefaultPatterns), nil
	}
	return NewIgnoreSet(patterns), nil
}

// NewIgnoreSet builds an IgnoreSet from raw pattern lines.
func NewIgnoreSet(patterns []string) *IgnoreSet {
	s := &IgnoreSet{}
	for _, p := range patterns {
		if strings.HasSuffix(p, "/") {
			s.prefixes = append(s.prefixes, strings.TrimSuffix(p, "/"))
		} else {
			s.globs = append(s.globs, p)
		}
	}
	return s
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "./")
	return strings.ReplaceAll(p, "\\", "/")
}

// Match reports whether relPath is ignored.
func (s *IgnoreSet) Match(relPath string) bool {
	norm := normalizePath(relPath)
	for _, prefix := range s.prefixes {
		if norm == prefix || strings.HasPrefix(norm, prefix+"/") {
			return true
		}
		// also match a nested directory component anywhere in the path
		for _, segment := range strings.Split(norm, "/") {
			if segment == prefix {
				return true
			}
		}
	}
	for _, glob := range s.globs {
		if ok, _ := path.Match(glob, norm); ok {
			return true
		}
		if ok, _ := path.Match(glob, path.Base(norm)); ok {
			return true
		}
	}
	return false
}
