package uploader

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"agentsync/ledger"
)

// Ignorer filters paths out of a batch walk. Paths are relative to the
// walked root. *watcher.IgnoreMatcher satisfies this.
type Ignorer interface {
	ShouldIgnore(relPath string) bool
}

// Summary counts the terminal outcomes of one batch pass.
type Summary struct {
	Uploaded int
	Skipped  int
	Errored  int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d uploaded, %d skipped, %d errored", s.Uploaded, s.Skipped, s.Errored)
}

// Synchronizer runs one-shot passes over a folder, pushing every eligible
// file through the scheduler. Files already recorded in the ledger count as
// skipped; a single failing file does not stop the pass.
type Synchronizer struct {
	sched *Scheduler

	mu      sync.Mutex
	summary Summary
}

// NewSynchronizer builds a synchronizer with its own scheduler. A result
// handler passed via opts still fires per file, after the summary counting.
func NewSynchronizer(client Uploader, led *ledger.Cache, projectID string, opts ...SchedulerOption) *Synchronizer {
	s := &Synchronizer{}
	s.sched = NewScheduler(client, led, projectID, opts...)

	userHandler := s.sched.onResult
	s.sched.onResult = func(r Result) {
		s.count(r)
		if userHandler != nil {
			userHandler(r)
		}
	}

	return s
}

func (s *Synchronizer) count(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Outcome {
	case OutcomeUploaded:
		s.summary.Uploaded++
	case OutcomeAlreadyExists, OutcomeSkipped:
		s.summary.Skipped++
	case OutcomeFailed:
		s.summary.Errored++
	}
}

// Sync walks root, submits every eligible file, and blocks until all jobs
// reach a terminal state. With recursive off only the top level is scanned.
func (s *Synchronizer) Sync(ctx context.Context, root string, recursive bool, ign Ignorer) (Summary, error) {
	s.mu.Lock()
	s.summary = Summary{}
	s.mu.Unlock()

	s.sched.Start(ctx)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if !recursive {
				return filepath.SkipDir
			}
			if ign != nil && ign.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ign != nil && ign.ShouldIgnore(rel) {
			return nil
		}

		s.sched.Submit(path)
		return nil
	})

	flushErr := s.sched.Flush(ctx)
	stopErr := s.sched.Stop()

	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()

	if walkErr != nil {
		return summary, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}
	if stopErr != nil {
		return summary, stopErr
	}
	return summary, flushErr
}
