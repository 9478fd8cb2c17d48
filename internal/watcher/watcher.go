// Package watcher observes the working tree and reports file changes to the
// change log.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"ctxlink/internal/changelog"
	"ctxlink/internal/paths"
)

// Sink receives observed changes
type Sink interface {
	Append(e changelog.Event) bool
}

// Config contains watcher configuration
type Config struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns"`
	// SkipDirs are repo-relative directories that are never watched
	SkipDirs []string `json:"skipDirs" mapstructure:"skipDirs"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		IgnorePatterns: []string{
			"*.log",
			"*.tmp",
			"*.swp",
			"__pycache__/**",
			"vendor/**",
		},
		SkipDirs: []string{".git", "node_modules", paths.MetaDirName},
	}
}

// Watcher watches a working tree recursively
type Watcher struct {
	root   string
	config Config
	logger *slog.Logger
	sink   Sink
	now    func() time.Time

	fsw     *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool

	watchedDirs atomic.Int64
	recorded    atomic.Int64
	ignored     atomic.Int64
	errors      atomic.Int64
}

// New creates a watcher for root that reports into sink
func New(root string, config Config, sink Sink, logger *slog.Logger) *Watcher {
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Watcher{
		root:   root,
		config: config,
		logger: logger,
		sink:   sink,
		now:    time.Now,
	}
}

// Start begins watching. It is a no-op when the watcher is disabled.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.config.Enabled {
		w.logger.Info("File watcher is disabled")
		return nil
	}
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(context.Background())

	if err := w.addRecursive(w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	w.started = true
	w.wg.Add(1)
	go w.loop()

	w.logger.Info("Starting file watcher",
		"root", w.root,
		"watchedDirs", w.watchedDirs.Load(),
	)
	return nil
}

// Stop stops watching and waits for the event loop to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.cancel()
	err := w.fsw.Close()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("File watcher stopped")
	return err
}

// Run starts the watcher and blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errors.Add(1)
			w.logger.Warn("File watcher error", "error", err.Error())
		}
	}
}

// handle turns one fsnotify event into change log entries
func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := paths.CanonicalizePath(ev.Name, w.root)
	if err != nil || rel == "." || strings.HasPrefix(rel, "../") {
		return
	}
	if w.skipDir(rel) {
		return
	}

	var kind changelog.Kind
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New directory: watch it and report files already written into it
			w.watchNewDir(ev.Name)
			return
		}
		kind = changelog.Create
	case ev.Has(fsnotify.Write):
		kind = changelog.Modify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = changelog.Delete
	default:
		return
	}

	w.record(rel, kind)
}

func (w *Watcher) record(rel string, kind changelog.Kind) {
	if w.IsIgnored(rel) {
		w.ignored.Add(1)
		return
	}
	if w.sink.Append(changelog.Event{Path: rel, Kind: kind, Timestamp: w.now()}) {
		w.recorded.Add(1)
		w.logger.Debug("File change recorded", "path", rel, "kind", string(kind))
	}
}

func (w *Watcher) watchNewDir(dir string) {
	if err := w.addRecursive(dir); err != nil {
		w.logger.Warn("Failed to watch new directory", "path", dir, "error", err.Error())
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := paths.CanonicalizePath(p, w.root); err == nil && !w.skipDir(rel) {
			w.record(rel, changelog.Create)
		}
		return nil
	})
}

// addRecursive adds dir and its subdirectories, skipping excluded ones
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root {
			rel, relErr := paths.CanonicalizePath(p, w.root)
			if relErr == nil && (w.skipDir(rel) || w.IsIgnored(rel+"/")) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Debug("Failed to watch directory", "path", p, "error", err.Error())
			return nil
		}
		w.watchedDirs.Add(1)
		return nil
	})
}

func (w *Watcher) skipDir(rel string) bool {
	for _, d := range w.config.SkipDirs {
		if paths.HasDirPrefix(rel, d) {
			return true
		}
	}
	return false
}

// IsIgnored checks if a repo-relative path matches ignore patterns
func (w *Watcher) IsIgnored(path string) bool {
	path = filepath.ToSlash(path)
	for _, pattern := range w.config.IgnorePatterns {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		if matched {
			return true
		}

		// "dir/**" style patterns match everything below dir
		if strings.Contains(pattern, "**") {
			parts := strings.Split(pattern, "**")
			if len(parts) == 2 {
				prefix := strings.TrimSuffix(parts[0], "/")
				suffix := strings.TrimPrefix(parts[1], "/")
				if prefix != "" && !underDir(path, prefix) {
					continue
				}
				if suffix == "" || strings.HasSuffix(path, suffix) {
					return true
				}
				if matched, _ := filepath.Match(suffix, filepath.Base(path)); matched {
					return true
				}
			}
		}
	}
	return false
}

// underDir reports whether path lies below dir. A dir without a slash, like
// gitignore's, matches at any depth; one with a slash is anchored at the root.
func underDir(path, dir string) bool {
	if strings.Contains(dir, "/") {
		return paths.HasDirPrefix(path, dir)
	}
	return strings.Contains("/"+strings.TrimSuffix(path, "/")+"/", "/"+dir+"/")
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":        w.config.Enabled,
		"watchedDirs":    w.watchedDirs.Load(),
		"recorded":       w.recorded.Load(),
		"ignored":        w.ignored.Load(),
		"errors":         w.errors.Load(),
		"ignorePatterns": len(w.config.IgnorePatterns),
	}
}
