// Package chat turns a streaming chat request against the remote agent into
// an ordered, cancellable sequence of response fragments. Each server-sent
// event maps to exactly one fragment, delivered in arrival order; the
// underlying connection is closed promptly on cancellation.
package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrStreamBroken indicates the connection dropped mid-stream. It is
// surfaced as a distinct failure rather than a truncated success.
var ErrStreamBroken = errors.New("stream broken")

// Turn is one question against a project's agent.
type Turn struct {
	ProjectID      string
	ConversationID string
	Prompt         string
}

// Fragment is one incremental piece of a streamed response.
type Fragment struct {
	Text string
}

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Streamer opens a raw server-sent event feed for a chat turn.
// *api.Client satisfies this.
type Streamer interface {
	StreamMessage(ctx context.Context, projectID, sessionID, prompt string) (io.ReadCloser, error)
}

// Consumer creates streams. The read timeout bounds the wait for each event
// so a stalled connection cannot block a reader indefinitely.
type Consumer struct {
	client      Streamer
	readTimeout time.Duration
}

type ConsumerOption func(*Consumer)

func WithReadTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.readTimeout = d
	}
}

func NewConsumer(client Streamer, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client:      client,
		readTimeout: 90 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream is one in-flight chat turn. Fragments are read from Fragments();
// once the channel closes, Err reports how the turn ended (nil for a normal
// completion) and State reports the terminal state.
type Stream struct {
	fragments chan Fragment
	cancel    context.CancelFunc

	mu    sync.Mutex
	state State
	err   error
}

// Stream opens a streaming turn. The returned Stream is already connecting;
// a connection failure surfaces through Err after the fragment channel
// closes with no fragments delivered.
func (c *Consumer) Stream(ctx context.Context, turn Turn) *Stream {
	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		fragments: make(chan Fragment, 16),
		cancel:    cancel,
		state:     StateIdle,
	}

	go s.run(ctx, c, turn)

	return s
}

func (s *Stream) Fragments() <-chan Fragment {
	return s.fragments
}

// Cancel stops the stream. No further fragments are delivered after Cancel
// returns and the connection is closed promptly. Cancelling a finished
// stream is a no-op.
func (s *Stream) Cancel() {
	s.cancel()
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, valid after the fragment channel closes.
// Nil means the server signalled a normal end of turn.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Stream) finish(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.err = err
	s.mu.Unlock()
}

// sseEvent is the JSON payload of one server-sent event. Progress events
// carry a message delta; finish marks end-of-turn.
type sseEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Stream) run(ctx context.Context, c *Consumer, turn Turn) {
	defer close(s.fragments)
	defer s.cancel()

	s.setState(StateConnecting)

	body, err := c.client.StreamMessage(ctx, turn.ProjectID, turn.ConversationID, turn.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			s.finish(StateCancelled, ctx.Err())
		} else {
			s.finish(StateFailed, fmt.Errorf("failed to open stream: %w", err))
		}
		return
	}
	defer body.Close()

	s.setState(StateStreaming)

	// Watchdog: if no event arrives within the read timeout, closing the
	// body unblocks the scanner and the turn fails as broken.
	var stalled bool
	var stalledMu sync.Mutex
	watchdog := time.AfterFunc(c.readTimeout, func() {
		stalledMu.Lock()
		stalled = true
		stalledMu.Unlock()
		body.Close()
	})
	defer watchdog.Stop()

	// Close the connection as soon as cancellation is requested, so a
	// blocked read does not outlive the caller.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-watcherDone:
		}
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	completed := false
	for scanner.Scan() {
		watchdog.Reset(c.readTimeout)

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			completed = true
			break
		}

		var event sseEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// One malformed event does not kill the turn
			log.Printf("Skipping malformed stream event: %v", err)
			continue
		}

		switch event.Status {
		case "progress":
			select {
			case <-ctx.Done():
				s.finish(StateCancelled, ctx.Err())
				return
			case s.fragments <- Fragment{Text: event.Message}:
			}
		case "finish":
			completed = true
		case "error":
			s.finish(StateFailed, fmt.Errorf("%w: server reported: %s", ErrStreamBroken, event.Message))
			return
		}

		if completed {
			break
		}
	}

	if ctx.Err() != nil {
		s.finish(StateCancelled, ctx.Err())
		return
	}

	stalledMu.Lock()
	wasStalled := stalled
	stalledMu.Unlock()
	if wasStalled {
		s.finish(StateFailed, fmt.Errorf("%w: no event within %s", ErrStreamBroken, c.readTimeout))
		return
	}

	if err := scanner.Err(); err != nil {
		s.finish(StateFailed, fmt.Errorf("%w: %v", ErrStreamBroken, err))
		return
	}

	if !completed {
		// EOF without an end-of-turn marker is a truncation, not a success
		s.finish(StateFailed, fmt.Errorf("%w: connection closed before end of turn", ErrStreamBroken))
		return
	}

	s.finish(StateCompleted, nil)
}
