// Package uploader drains file-change work into the remote project. The
// scheduler enforces the exactly-once contract: every job is fingerprinted,
// checked against the upload ledger, uploaded at most once, and recorded.
// Retry policy lives here and nowhere else.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agentsync/fingerprint"
	"agentsync/ledger"
)

type Outcome int

const (
	OutcomeUploaded Outcome = iota
	OutcomeAlreadyExists
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUploaded:
		return "uploaded"
	case OutcomeAlreadyExists:
		return "already exists"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal state of one upload job.
type Result struct {
	Path        string
	ProjectID   string
	Outcome     Outcome
	Fingerprint string
	Attempts    int
	Err         error
}

// Uploader performs the remote upload call. *api.Client satisfies this.
type Uploader interface {
	UploadSource(ctx context.Context, projectID, name string, r io.Reader) error
}

// RetryPolicy bounds transient-failure retries. Backoff doubles per attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
	}
}

// temporary matches errors that know whether they are worth retrying,
// such as *api.APIError. Errors without an opinion are treated as
// transient (network timeouts, connection resets).
type temporary interface {
	Temporary() bool
}

// Scheduler owns the dirty set of paths awaiting upload. Submitting a path
// already queued coalesces to a single job; submitting a path mid-upload
// schedules one re-run after the current job finishes, so jobs for the same
// path never race. The dirty set is naturally bounded by the number of
// distinct files, so a flood of change events cannot grow it without limit.
type Scheduler struct {
	client    Uploader
	ledger    *ledger.Cache
	projectID string
	policy    RetryPolicy
	workers   int
	onResult  func(Result)

	mu       sync.Mutex
	cond     *sync.Cond
	order    []string            // FIFO of queued paths
	queued   map[string]struct{} // membership mirror of order
	inflight map[string]struct{}
	again    map[string]struct{} // re-run after the inflight job completes
	closed   bool

	done     chan struct{}
	group    *errgroup.Group
	groupCtx context.Context
}

type SchedulerOption func(*Scheduler)

func WithRetryPolicy(policy RetryPolicy) SchedulerOption {
	return func(s *Scheduler) {
		s.policy = policy
	}
}

func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithResultHandler registers a callback invoked once per job on its
// terminal state, from the worker goroutine that finished it.
func WithResultHandler(fn func(Result)) SchedulerOption {
	return func(s *Scheduler) {
		s.onResult = fn
	}
}

func NewScheduler(client Uploader, led *ledger.Cache, projectID string, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		client:    client,
		ledger:    led,
		projectID: projectID,
		policy:    DefaultRetryPolicy(),
		workers:   4,
		queued:    make(map[string]struct{}),
		inflight:  make(map[string]struct{}),
		again:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the worker pool. Workers exit when Stop is called and the
// queue is drained, or when a worker hits a fatal ledger error, which
// cancels the whole pipeline.
func (s *Scheduler) Start(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	s.group = group
	s.groupCtx = ctx

	// Wake blocked workers when the context dies
	group.Go(func() error {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-s.done:
		}
		return nil
	})

	for i := 0; i < s.workers; i++ {
		group.Go(func() error {
			return s.worker(ctx)
		})
	}
}

// Stop closes the queue and waits for workers to drain it. The returned
// error is the first fatal error, if any.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	close(s.done)

	return s.group.Wait()
}

// Submit enqueues a path for upload. Never blocks: duplicates coalesce and
// a path already mid-upload is marked for one re-run instead.
func (s *Scheduler) Submit(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, busy := s.inflight[path]; busy {
		s.again[path] = struct{}{}
		return
	}
	if _, ok := s.queued[path]; ok {
		return
	}

	s.queued[path] = struct{}{}
	s.order = append(s.order, path)
	s.cond.Signal()
}

// Flush blocks until every submitted job has reached a terminal state.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.order)+len(s.inflight)+len(s.again) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A fatal worker error cancels the group; waiting further would
		// never drain the queue.
		if err := s.groupCtx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}

	return ctx.Err()
}

func (s *Scheduler) worker(ctx context.Context) error {
	for {
		path, ok := s.claim(ctx)
		if !ok {
			return nil
		}

		result, fatal := s.process(ctx, path)
		s.release(path)

		if s.onResult != nil {
			s.onResult(result)
		}
		if fatal != nil {
			return fatal
		}
	}
}

// claim pops the oldest queued path that is not already being uploaded.
func (s *Scheduler) claim(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return "", false
		}

		for i, path := range s.order {
			if _, busy := s.inflight[path]; busy {
				continue
			}
			s.order = append(s.order[:i], s.order[i+1:]...)
			delete(s.queued, path)
			s.inflight[path] = struct{}{}
			return path, true
		}

		if s.closed && len(s.order) == 0 {
			return "", false
		}

		s.cond.Wait()
	}
}

// release retires an inflight path, re-queueing it once if a change event
// arrived while it was being uploaded.
func (s *Scheduler) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, path)

	if _, rerun := s.again[path]; rerun {
		delete(s.again, path)
		if _, ok := s.queued[path]; !ok && !s.closed {
			s.queued[path] = struct{}{}
			s.order = append(s.order, path)
		}
	}

	s.cond.Broadcast()
}

// process runs one job to a terminal state. The second return value is
// non-nil only for fatal conditions (ledger store unreachable), which stop
// the whole pipeline.
func (s *Scheduler) process(ctx context.Context, path string) (Result, error) {
	result := Result{Path: path, ProjectID: s.projectID}

	fp, err := fingerprint.File(path)
	if err != nil {
		// File vanished or unreadable: skip, log, never retry
		log.Printf("Skipping %s: %v", path, err)
		result.Outcome = OutcomeSkipped
		result.Err = err
		return result, nil
	}
	result.Fingerprint = fp

	present, err := s.ledger.Contains(ctx, s.projectID, fp)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("ledger unavailable: %w", err)
		return result, result.Err
	}
	if present {
		result.Outcome = OutcomeAlreadyExists
		return result, nil
	}

	backoff := s.policy.InitialBackoff
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err = s.uploadOnce(ctx, path)
		if err == nil {
			if recordErr := s.ledger.Record(ctx, s.projectID, fp, path); recordErr != nil {
				result.Outcome = OutcomeFailed
				result.Err = fmt.Errorf("ledger unavailable: %w", recordErr)
				return result, result.Err
			}
			result.Outcome = OutcomeUploaded
			return result, nil
		}

		if errors.Is(err, fingerprint.ErrSourceUnavailable) {
			log.Printf("Skipping %s: %v", path, err)
			result.Outcome = OutcomeSkipped
			result.Err = err
			return result, nil
		}

		var tmp temporary
		if errors.As(err, &tmp) && !tmp.Temporary() {
			// 4xx auth/validation: retrying cannot help
			result.Outcome = OutcomeFailed
			result.Err = err
			return result, nil
		}

		if attempt < s.policy.MaxAttempts {
			log.Printf("Upload of %s failed (attempt %d/%d), retrying in %s: %v",
				path, attempt, s.policy.MaxAttempts, backoff, err)
			select {
			case <-ctx.Done():
				result.Outcome = OutcomeFailed
				result.Err = ctx.Err()
				return result, nil
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	result.Outcome = OutcomeFailed
	result.Err = fmt.Errorf("upload failed after %d attempts: %w", s.policy.MaxAttempts, err)
	return result, nil
}

// uploadOnce holds the file handle only for the duration of one upload
// attempt; a retry reopens the file.
func (s *Scheduler) uploadOnce(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", fingerprint.ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	return s.client.UploadSource(ctx, s.projectID, filepath.Base(path), f)
}
