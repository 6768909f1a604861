package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Project.ID = "42"
	cfg.Ledger.Backend = "postgres"
	cfg.Ledger.Postgres.DSN = "postgres://localhost/agentsync"

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if loaded.Project.ID != "42" {
		t.Errorf("Project.ID = %q, want 42", loaded.Project.ID)
	}
	if loaded.Ledger.Backend != "postgres" {
		t.Errorf("Ledger.Backend = %q, want postgres", loaded.Ledger.Backend)
	}
	if loaded.Ledger.Postgres.DSN != "postgres://localhost/agentsync" {
		t.Errorf("unexpected DSN %q", loaded.Ledger.Postgres.DSN)
	}
	if loaded.Watch.DebounceMs != 500 {
		t.Errorf("Watch.DebounceMs = %d, want 500", loaded.Watch.DebounceMs)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	configDir := GetConfigDir(root)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}

	// A minimal config file from an older version
	minimal := "version: 1\nproject:\n  id: \"7\"\n"
	if err := os.WriteFile(GetConfigPath(root), []byte(minimal), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Project.ID != "7" {
		t.Errorf("Project.ID = %q, want 7", cfg.Project.ID)
	}
	if cfg.Watch.DebounceMs != 500 {
		t.Errorf("Watch.DebounceMs = %d, want default 500", cfg.Watch.DebounceMs)
	}
	if cfg.Upload.Workers != 4 {
		t.Errorf("Upload.Workers = %d, want default 4", cfg.Upload.Workers)
	}
	if cfg.Upload.MaxAttempts != 3 {
		t.Errorf("Upload.MaxAttempts = %d, want default 3", cfg.Upload.MaxAttempts)
	}
	if cfg.Ledger.Backend != "gob" {
		t.Errorf("Ledger.Backend = %q, want default gob", cfg.Ledger.Backend)
	}
	if cfg.Chat.ReadTimeoutSeconds != 90 {
		t.Errorf("Chat.ReadTimeoutSeconds = %d, want default 90", cfg.Chat.ReadTimeoutSeconds)
	}
	if !cfg.Watch.IsRecursive() {
		t.Error("IsRecursive() should default to true when unset")
	}
}

func TestIsRecursiveExplicitFalse(t *testing.T) {
	root := t.TempDir()
	configDir := GetConfigDir(root)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}

	content := "version: 1\nwatch:\n  recursive: false\n"
	if err := os.WriteFile(GetConfigPath(root), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Watch.IsRecursive() {
		t.Error("IsRecursive() should honor explicit false")
	}
}

func TestExists(t *testing.T) {
	root := t.TempDir()

	if Exists(root) {
		t.Error("Exists() should be false before save")
	}

	if err := DefaultConfig().Save(root); err != nil {
		t.Fatal(err)
	}

	if !Exists(root) {
		t.Error("Exists() should be true after save")
	}
}

func TestPathHelpers(t *testing.T) {
	root := t.TempDir()

	if got := GetLedgerPath(root); got != filepath.Join(root, ".agentsync", "ledger.gob") {
		t.Errorf("unexpected ledger path %q", got)
	}
	if got := GetConfigPath(root); got != filepath.Join(root, ".agentsync", "config.yaml") {
		t.Errorf("unexpected config path %q", got)
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	// Resolve symlinks so the comparison below survives macOS /private paths
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatal(err)
	}

	if err := DefaultConfig().Save(root); err != nil {
		t.Fatal(err)
	}

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	found, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("FindProjectRoot() failed: %v", err)
	}
	if found != root {
		t.Errorf("FindProjectRoot() = %q, want %q", found, root)
	}
}

func TestFindProjectRootNotInitialized(t *testing.T) {
	dir := t.TempDir()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	if _, err := FindProjectRoot(); err == nil {
		t.Error("FindProjectRoot() should fail outside a project")
	}
}
