package git

import "testing"

func TestDefaultIgnoreMatchesLogFiles(t *testing.T) {
	s := NewIgnoreSet(DefaultPatterns)
	cases := map[string]bool{
		"run.log":              true,
		".env":                 true,
		".env.local":           true,
		"data.sqlite":          true,
		"data.sqlite-journal":  true,
		"__pycache__/mod.pyc":  true,
		"node_modules/pkg/a.js": true,
		"dist/bundle.js":       true,
		"src/main.go":          false,
		"README.md":            false,
	}
	for in, want := range cases {
		if got := s.Match(in); got != want {
			t.Errorf("Match(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIgnoreNormalizesPaths(t *testing.T) {
	s := NewIgnoreSet([]string{"build/"})
	if !s.Match("./build/out.o") {
		t.Error("expected ./build/out.o to be ignored")
	}
	if !s.Match("build\\windows.o") {
		t.Error("expected backslash path under build/ to be ignored")
	}
}

func TestIgnoreGlobMatchesBasename(t *testing.T) {
	s := NewIgnoreSet([]string{"*.tmp"})
	if !s.Match("deep/nested/file.tmp") {
		t.Error("expected nested *.tmp match")
	}
	if s.Match("deep/nested/file.go") {
		t.Error("unexpected match for file.go")
	}
}
