package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalizePath(t *testing.T) {
	tempDir := t.TempDir()

	testFile := filepath.Join(tempDir, "subdir", "test.go")
	if err := os.MkdirAll(filepath.Dir(testFile), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(testFile, []byte("package test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	canonical, err := CanonicalizePath(testFile, tempDir)
	if err != nil {
		t.Fatalf("CanonicalizePath failed: %v", err)
	}
	if canonical != "subdir/test.go" {
		t.Errorf("Expected subdir/test.go, got %s", canonical)
	}
}

func TestCanonicalizePath_DeletedFile(t *testing.T) {
	tempDir := t.TempDir()

	canonical, err := CanonicalizePath(filepath.Join(tempDir, "gone.go"), tempDir)
	if err != nil {
		t.Fatalf("CanonicalizePath failed: %v", err)
	}
	if canonical != "gone.go" {
		t.Errorf("Expected gone.go, got %s", canonical)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"path/to/file", "path/to/file"},
		{"./path/to/file", "path/to/file"},
		{"/path/to/file", "path/to/file"},
		{"path//to/../to/file", "path/to/file"},
		{`path\to\file`, "path/to/file"},
		{"  a.py ", "a.py"},
		{".", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizePath(tt.in); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHasDirPrefix(t *testing.T) {
	tests := []struct {
		path string
		dir  string
		want bool
	}{
		{".git/index", ".git", true},
		{".git", ".git", true},
		{".github/workflows/ci.yml", ".git", false},
		{"src/node_modules/x.js", "node_modules", false},
		{"node_modules/x.js", "node_modules/", true},
		{"a.py", "", false},
	}

	for _, tt := range tests {
		if got := HasDirPrefix(tt.path, tt.dir); got != tt.want {
			t.Errorf("HasDirPrefix(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}

func TestJoinRepoPath(t *testing.T) {
	result := JoinRepoPath("/repo/root", "path/to/file.go")
	expected := filepath.Join("/repo/root", "path", "to", "file.go")
	if result != expected {
		t.Errorf("JoinRepoPath: expected %s, got %s", expected, result)
	}
}

func TestIsWithinRepo(t *testing.T) {
	tempDir := t.TempDir()

	testFile := filepath.Join(tempDir, "subdir", "test.go")
	if err := os.MkdirAll(filepath.Dir(testFile), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(testFile, []byte("package test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !IsWithinRepo(testFile, tempDir) {
		t.Error("Expected file to be within repo")
	}

	outsideFile := filepath.Join(filepath.Dir(tempDir), "outside.go")
	if IsWithinRepo(outsideFile, tempDir) {
		t.Error("Expected file outside repo to return false")
	}
}

func TestMetaPaths(t *testing.T) {
	root := t.TempDir()

	dir, err := EnsureMetaDir(root)
	if err != nil {
		t.Fatalf("EnsureMetaDir failed: %v", err)
	}
	if dir != filepath.Join(root, ".ctxlink") {
		t.Errorf("EnsureMetaDir = %s", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("meta dir not created: %v", err)
	}

	if got := DefaultDBPath(root); got != filepath.Join(root, ".ctxlink", "ctxlink.db") {
		t.Errorf("DefaultDBPath = %s", got)
	}

	if _, err := EnsureLogsDir(root); err != nil {
		t.Fatalf("EnsureLogsDir failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(GetLogPath(root))); err != nil {
		t.Errorf("logs dir missing: %v", err)
	}
}
