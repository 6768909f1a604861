package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentsync/api"
	"agentsync/config"
	"agentsync/ledger"
	"agentsync/uploader"
	"agentsync/watcher"
)

// newAPIClient builds a client from the project config. The API key usually
// comes from the environment; an explicit config value takes precedence.
func newAPIClient(cfg *config.Config) (*api.Client, error) {
	opts := []api.Option{
		api.WithTimeout(time.Duration(cfg.API.TimeoutSeconds) * time.Second),
	}
	if cfg.API.BaseURL != "" {
		opts = append(opts, api.WithBaseURL(cfg.API.BaseURL))
	}
	if cfg.API.APIKey != "" {
		opts = append(opts, api.WithAPIKey(cfg.API.APIKey))
	}
	return api.NewClient(opts...)
}

// openLedger opens the configured ledger backend, warmed for the project.
func openLedger(ctx context.Context, cfg *config.Config, projectRoot string) (*ledger.Cache, error) {
	var backend ledger.Ledger

	switch cfg.Ledger.Backend {
	case "gob":
		gobLedger := ledger.NewGOBLedger(config.GetLedgerPath(projectRoot))
		if err := gobLedger.Open(ctx); err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		backend = gobLedger
	case "postgres":
		pgLedger, err := ledger.NewPostgresLedger(ctx, cfg.Ledger.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
		}
		backend = pgLedger
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Ledger.Backend)
	}

	cache := ledger.NewCache(backend)
	if err := cache.Warm(ctx, cfg.Project.ID); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to load ledger for project %s: %w", cfg.Project.ID, err)
	}

	return cache, nil
}

func retryPolicy(cfg *config.Config) uploader.RetryPolicy {
	return uploader.RetryPolicy{
		MaxAttempts:    cfg.Upload.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Upload.InitialBackoffMs) * time.Millisecond,
	}
}

func newIgnoreMatcher(cfg *config.Config, projectRoot string) *watcher.IgnoreMatcher {
	return watcher.NewIgnoreMatcher(projectRoot, cfg.Ignore)
}

func requireProject(cfg *config.Config) error {
	if cfg.Project.ID == "" {
		return fmt.Errorf("no project configured (run 'agentsync init' first)")
	}
	return nil
}

// ensureGitignoreEntry appends an entry to dir/.gitignore unless present.
func ensureGitignoreEntry(dir, entry string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")
	content, err := os.ReadFile(gitignorePath)
	if err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == entry || trimmed == strings.TrimSuffix(entry, "/") {
				return nil
			}
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	_, err = f.WriteString(entry + "\n")
	return err
}
