package ledger

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GOBLedger is a file-backed ledger. Every successful Record is persisted
// before returning, so a crash immediately after Record cannot lose the
// entry. A lock file guards against concurrent writers from other processes.
type GOBLedger struct {
	ledgerPath string
	lockPath   string
	entries    map[string]Entry // entryKey -> entry
	mu         sync.RWMutex
}

type gobData struct {
	Entries map[string]Entry
}

func NewGOBLedger(ledgerPath string) *GOBLedger {
	return &GOBLedger{
		ledgerPath: ledgerPath,
		lockPath:   ledgerPath + ".lock",
		entries:    make(map[string]Entry),
	}
}

// Open loads existing entries from disk. A missing ledger file is not an
// error; the ledger starts empty.
func (l *GOBLedger) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lockFile, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return l.loadUnlocked()
	}
	defer lockFile.Close()

	if err := flockShared(lockFile); err != nil {
		return l.loadUnlocked()
	}
	defer func() {
		_ = funlock(lockFile)
	}()

	return l.loadUnlocked()
}

func (l *GOBLedger) loadUnlocked() error {
	file, err := os.Open(l.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer file.Close()

	var data gobData
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode ledger: %w", err)
	}

	l.entries = data.Entries
	if l.entries == nil {
		l.entries = make(map[string]Entry)
	}

	return nil
}

func (l *GOBLedger) Contains(ctx context.Context, projectID, fp string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.entries[entryKey(projectID, fp)]
	return ok, nil
}

func (l *GOBLedger) Record(ctx context.Context, projectID, fp, sourcePath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := entryKey(projectID, fp)
	if _, ok := l.entries[key]; ok {
		return nil
	}

	l.entries[key] = Entry{
		ProjectID:   projectID,
		Fingerprint: fp,
		SourcePath:  sourcePath,
		UploadedAt:  time.Now().UTC(),
	}

	// Persist before reporting success so the entry survives a crash.
	if err := l.persistLocked(); err != nil {
		delete(l.entries, key)
		return fmt.Errorf("failed to persist ledger: %w", err)
	}

	return nil
}

func (l *GOBLedger) Load(ctx context.Context, projectID string) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fps := make(map[string]struct{})
	for _, entry := range l.entries {
		if entry.ProjectID == projectID {
			fps[entry.Fingerprint] = struct{}{}
		}
	}

	return fps, nil
}

// persistLocked writes all entries to a temp file and renames it over the
// ledger path. Callers must hold l.mu.
func (l *GOBLedger) persistLocked() error {
	lockFile, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err == nil {
		defer lockFile.Close()
		if err := flockExclusive(lockFile); err == nil {
			defer func() {
				_ = funlock(lockFile)
			}()
		}
	}

	tmpPath := l.ledgerPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}

	data := gobData{Entries: l.entries}
	if err := gob.NewEncoder(file).Encode(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return replaceFile(tmpPath, l.ledgerPath)
}

func (l *GOBLedger) Close() error {
	return nil
}

// Stats returns the entry count, used by status reporting.
func (l *GOBLedger) Stats() (numEntries int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// replaceFile renames tmpPath to targetPath. On systems where cross-device
// rename fails, it falls back to remove-then-rename.
func replaceFile(tmpPath, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, targetPath); err == nil {
		return nil
	}
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
