package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty path",
			input:     "",
			wantError: true,
		},
		{
			name:      "relative path",
			input:     "./test",
			wantError: false,
		},
		{
			name:      "absolute path",
			input:     "/tmp/test",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ResolvePath(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
			if !tt.wantError && result == "" {
				t.Errorf("ResolvePath(%q) returned empty string", tt.input)
			}
		})
	}
}

func TestResolvePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	result, err := ResolvePath("~/notes")
	if err != nil {
		t.Fatalf("ResolvePath(~/notes) error = %v", err)
	}
	if !strings.HasPrefix(result, home) {
		t.Errorf("ResolvePath(~/notes) = %q, want prefix %q", result, home)
	}
}

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()
	nested := filepath.Join(tmp, "a", "b", "c")

	if err := EnsureDir(nested); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if !DirExists(nested) {
		t.Errorf("EnsureDir() did not create %q", nested)
	}

	// second call on an existing dir is a no-op
	if err := EnsureDir(nested); err != nil {
		t.Errorf("EnsureDir() on existing dir error = %v", err)
	}
}

func TestFileExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "f.txt")

	if FileExists(path) {
		t.Errorf("FileExists(%q) = true before creation", path)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Errorf("FileExists(%q) = false after creation", path)
	}
	if FileExists(tmp) {
		t.Errorf("FileExists(%q) = true for a directory", tmp)
	}
}
