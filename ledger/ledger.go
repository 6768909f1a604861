// Package ledger provides the durable record of completed uploads. The
// ledger is the dedup source of truth: a (project, fingerprint) pair present
// in the ledger means the content has already been uploaded and must not be
// uploaded again, including after a process restart.
package ledger

import (
	"context"
	"time"
)

// Entry records one completed upload. Entries are created on successful
// upload and never updated; the primary key is (ProjectID, Fingerprint).
type Entry struct {
	ProjectID   string    `json:"project_id"`
	Fingerprint string    `json:"fingerprint"`
	SourcePath  string    `json:"source_path"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Ledger defines the interface for upload ledger backends.
type Ledger interface {
	// Contains reports whether the (project, fingerprint) pair has been
	// recorded.
	Contains(ctx context.Context, projectID, fp string) (bool, error)

	// Record stores an entry. Recording an already-present pair is a no-op,
	// not an error: concurrent duplicate uploads must not corrupt state.
	// A successful Record is durable across an immediate process crash.
	Record(ctx context.Context, projectID, fp, sourcePath string) error

	// Load returns the set of fingerprints recorded for a project, used to
	// warm an in-memory membership check.
	Load(ctx context.Context, projectID string) (map[string]struct{}, error)

	// Close cleanly shuts down the backend.
	Close() error
}

func entryKey(projectID, fp string) string {
	return projectID + "\x00" + fp
}
