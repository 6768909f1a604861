package fingerprint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFile_Deterministic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := File(path)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := File(path)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if first != second {
		t.Errorf("same file hashed twice gave %s and %s", first, second)
	}
	if len(first) != 32 {
		t.Errorf("expected 32 hex chars, got %d (%s)", len(first), first)
	}
}

func TestFile_ContentNotPathDetermines(t *testing.T) {
	tmpDir := t.TempDir()
	pathA := filepath.Join(tmpDir, "a.txt")
	pathB := filepath.Join(tmpDir, "renamed.txt")
	if err := os.WriteFile(pathA, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	hashA, err := File(pathA)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := File(pathB)
	if err != nil {
		t.Fatal(err)
	}

	if hashA != hashB {
		t.Errorf("identical content under different paths gave %s and %s", hashA, hashB)
	}
}

func TestFile_OneByteChangesFingerprint(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "a.txt")

	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	before, err := File(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("hellp"), 0644); err != nil {
		t.Fatal(err)
	}
	after, err := File(path)
	if err != nil {
		t.Fatal(err)
	}

	if before == after {
		t.Error("one byte change did not change fingerprint")
	}
}

func TestFile_MissingReportsSourceUnavailable(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got: %v", err)
	}
}

func TestBytes_MatchesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "a.txt")
	content := []byte("the quick brown fox")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile != Bytes(content) {
		t.Errorf("File and Bytes disagree: %s vs %s", fromFile, Bytes(content))
	}
}
