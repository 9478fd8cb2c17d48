package watcher

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ctxlink/internal/changelog"
)

type memorySink struct {
	mu     sync.Mutex
	events []changelog.Event
}

func (s *memorySink) Append(e changelog.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *memorySink) has(path string, kind changelog.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Path == path && e.Kind == kind {
			return true
		}
	}
	return false
}

func (s *memorySink) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Path)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if !config.Enabled {
		t.Error("Enabled should be true by default")
	}
	if len(config.IgnorePatterns) == 0 {
		t.Error("IgnorePatterns should not be empty")
	}
	want := map[string]bool{".git": false, "node_modules": false, ".ctxlink": false}
	for _, d := range config.SkipDirs {
		want[d] = true
	}
	for d, found := range want {
		if !found {
			t.Errorf("SkipDirs missing %q", d)
		}
	}
}

func TestWatcherIsIgnored(t *testing.T) {
	config := Config{
		IgnorePatterns: []string{
			"*.log",
			"*.tmp",
			"node_modules/**",
			"build/**/*.o",
			"__pycache__/**",
			"docs/generated/**",
		},
	}

	w := New(t.TempDir(), config, &memorySink{}, discardLogger())

	tests := []struct {
		path    string
		ignored bool
	}{
		{"debug.log", true},
		{"logs/debug.log", true},
		{"temp.tmp", true},
		{"node_modules/package/index.js", true},
		{"node_modules_extra/index.js", false},
		{"build/x/y.o", true},
		{"build/x/y.c", false},
		{"main.go", false},
		{"src/app.ts", false},
		{"__pycache__/x.pyc", true},
		{"pkg/__pycache__/x.pyc", true},
		{"pkg/sub/__pycache__", true},
		{"pkg/pycache/x.py", false},
		{"docs/generated/api.md", true},
		{"src/docs/generated/api.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := w.IsIgnored(tt.path)
			if got != tt.ignored {
				t.Errorf("IsIgnored(%q) = %v, want %v", tt.path, got, tt.ignored)
			}
		})
	}
}

func TestWatcherStartDisabled(t *testing.T) {
	w := New(t.TempDir(), Config{Enabled: false}, &memorySink{}, discardLogger())
	if err := w.Start(); err != nil {
		t.Errorf("Start() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := New(t.TempDir(), DefaultConfig(), &memorySink{}, discardLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWatcherRecordsChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(root, "src", "main.go")
	if err := os.WriteFile(existing, []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sink := &memorySink{}
	w := New(root, DefaultConfig(), sink, discardLogger())
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "create a.py", func() bool { return sink.has("a.py", changelog.Create) })

	if err := os.WriteFile(existing, []byte("package main\n\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "modify src/main.go", func() bool { return sink.has("src/main.go", changelog.Modify) })

	if err := os.Remove(existing); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delete src/main.go", func() bool { return sink.has("src/main.go", changelog.Delete) })

	// Files inside a newly created directory are picked up
	if err := os.MkdirAll(filepath.Join(root, "pkg", "util"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pkg", "util", "u.go"), []byte("package util\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "create pkg/util/u.go", func() bool { return sink.has("pkg/util/u.go", changelog.Create) })

	// Ignored and skipped paths never reach the sink
	if err := os.WriteFile(filepath.Join(root, "debug.log"), []byte("noise\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git", "index"), []byte("idx"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.py"), []byte("y = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "create b.py", func() bool { return sink.has("b.py", changelog.Create) })

	for _, p := range sink.paths() {
		if p == "debug.log" || p == ".git/index" {
			t.Errorf("unexpected event for %s", p)
		}
	}

	stats := w.Stats()
	if stats["recorded"].(int64) == 0 {
		t.Error("Stats should count recorded events")
	}
}
