package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentsync/config"
)

func TestEnsureGitignoreEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")

	if err := ensureGitignoreEntry(dir, ".agentsync/"); err != nil {
		t.Fatalf("ensureGitignoreEntry failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if !strings.Contains(string(content), ".agentsync/") {
		t.Errorf("expected entry in .gitignore, got %q", string(content))
	}

	// A second call must not duplicate the entry
	if err := ensureGitignoreEntry(dir, ".agentsync/"); err != nil {
		t.Fatalf("second ensureGitignoreEntry failed: %v", err)
	}
	content, _ = os.ReadFile(path)
	if strings.Count(string(content), ".agentsync/") != 1 {
		t.Errorf("entry duplicated: %q", string(content))
	}
}

func TestEnsureGitignoreEntry_NoTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules"), 0644); err != nil {
		t.Fatalf("failed to seed .gitignore: %v", err)
	}

	if err := ensureGitignoreEntry(dir, ".agentsync/"); err != nil {
		t.Fatalf("ensureGitignoreEntry failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "node_modules\n.agentsync/\n") {
		t.Errorf("entry not appended on its own line: %q", string(content))
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Upload.MaxAttempts = 5
	cfg.Upload.InitialBackoffMs = 250

	policy := retryPolicy(cfg)
	if policy.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", policy.MaxAttempts)
	}
	if policy.InitialBackoff != 250*time.Millisecond {
		t.Errorf("expected 250ms backoff, got %v", policy.InitialBackoff)
	}
}

func TestRequireProject(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := requireProject(cfg); err == nil {
		t.Error("expected error for missing project ID")
	}

	cfg.Project.ID = "42"
	if err := requireProject(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
