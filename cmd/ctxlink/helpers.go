package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"ctxlink/internal/backends/git"
	"ctxlink/internal/config"
	"ctxlink/internal/contextstore"
	"ctxlink/internal/errors"
	"ctxlink/internal/paths"
	"ctxlink/internal/storage"
)

// getRepoRoot returns --repo, or the top level of the working tree
// containing the current directory.
func getRepoRoot() (string, error) {
	start := repoFlag
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = wd
	}
	return git.RepoRootOf(start)
}

// loadConfig loads and validates the repository configuration
func loadConfig(repoRoot string) (*config.Config, error) {
	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		return nil, errors.New(errors.InvalidConfig, "Failed to load configuration", err, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.InvalidConfig, "Invalid configuration", err, nil)
	}
	return cfg, nil
}

// storePath resolves the context database location
func storePath(cfg *config.Config, repoRoot string) string {
	if cfg.Store.Path == "" {
		return paths.DefaultDBPath(repoRoot)
	}
	return cfg.ResolvePath(cfg.Store.Path)
}

// openBackend opens the context database without loading it
func openBackend(cfg *config.Config, repoRoot string, logger *slog.Logger) (*contextstore.SQLiteBackend, error) {
	db, err := storage.Open(storePath(cfg, repoRoot), logger)
	if err != nil {
		return nil, errors.New(errors.StoreFailed, "Failed to open context database", err, nil)
	}
	return contextstore.NewSQLiteBackend(db), nil
}

// openStore opens the SQLite-backed context store
func openStore(ctx context.Context, cfg *config.Config, repoRoot string, logger *slog.Logger) (*contextstore.Store, error) {
	backend, err := openBackend(cfg, repoRoot, logger)
	if err != nil {
		return nil, err
	}
	store, err := contextstore.Open(ctx, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// printJSON writes v as indented JSON to stdout
func printJSON(v interface{}) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
