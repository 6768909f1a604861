package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentsync/api"
)

func sseHandler(t *testing.T, events []string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}
	})
}

func newTestConsumer(t *testing.T, handler http.Handler) *Consumer {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(api.WithBaseURL(srv.URL), api.WithAPIKey("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return NewConsumer(client, WithReadTimeout(5*time.Second))
}

func drain(t *testing.T, s *Stream) []string {
	t.Helper()

	var texts []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frag, ok := <-s.Fragments():
			if !ok {
				return texts
			}
			texts = append(texts, frag.Text)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestStream_OrderedFragmentsThenCompletion(t *testing.T) {
	consumer := newTestConsumer(t, sseHandler(t, []string{
		`{"status":"progress","message":"4"}`,
		`{"status":"progress","message":" is"}`,
		`{"status":"progress","message":" the answer"}`,
		`{"status":"finish"}`,
	}))

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "2+2?"})
	texts := drain(t, s)

	want := []string{"4", " is", " the answer"}
	if len(texts) != len(want) {
		t.Fatalf("expected %d fragments, got %d: %v", len(want), len(texts), texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("fragment %d: expected %q, got %q", i, want[i], texts[i])
		}
	}

	if s.State() != StateCompleted {
		t.Errorf("expected completed, got %s", s.State())
	}
	if s.Err() != nil {
		t.Errorf("expected nil error, got %v", s.Err())
	}
}

func TestStream_MalformedEventSkipped(t *testing.T) {
	consumer := newTestConsumer(t, sseHandler(t, []string{
		`{"status":"progress","message":"first"}`,
		`{{{not json`,
		`{"status":"progress","message":"second"}`,
		`{"status":"finish"}`,
	}))

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "q"})
	texts := drain(t, s)

	if len(texts) != 2 || texts[0] != "first" || texts[1] != "second" {
		t.Errorf("expected [first second], got %v", texts)
	}
	if s.State() != StateCompleted {
		t.Errorf("expected completed, got %s", s.State())
	}
}

func TestStream_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from now on

	client, err := api.NewClient(api.WithBaseURL(srv.URL), api.WithAPIKey("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	consumer := NewConsumer(client, WithReadTimeout(time.Second))

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "q"})
	texts := drain(t, s)

	if len(texts) != 0 {
		t.Errorf("expected no fragments, got %v", texts)
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
	if s.Err() == nil {
		t.Error("expected a connection error")
	}
}

func TestStream_AuthRejectedFailsWithoutFragments(t *testing.T) {
	consumer := newTestConsumer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "q"})
	texts := drain(t, s)

	if len(texts) != 0 {
		t.Errorf("expected no fragments, got %v", texts)
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
}

func TestStream_TruncationIsBroken(t *testing.T) {
	// Server closes the connection without a finish event
	consumer := newTestConsumer(t, sseHandler(t, []string{
		`{"status":"progress","message":"partial"}`,
	}))

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "q"})
	texts := drain(t, s)

	if len(texts) != 1 || texts[0] != "partial" {
		t.Errorf("expected [partial], got %v", texts)
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
	if !errors.Is(s.Err(), ErrStreamBroken) {
		t.Errorf("expected ErrStreamBroken, got %v", s.Err())
	}
}

func TestStream_ServerErrorEvent(t *testing.T) {
	consumer := newTestConsumer(t, sseHandler(t, []string{
		`{"status":"progress","message":"a"}`,
		`{"status":"error","message":"backend exploded"}`,
	}))

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "q"})
	drain(t, s)

	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
	if !errors.Is(s.Err(), ErrStreamBroken) {
		t.Errorf("expected ErrStreamBroken, got %v", s.Err())
	}
}

func TestStream_CancelStopsPromptly(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"status\":\"progress\",\"message\":\"one\"}\n\n")
		flusher.Flush()
		<-release // hold the connection open
	})
	defer close(release)

	consumer := newTestConsumer(t, handler)

	s := consumer.Stream(context.Background(), Turn{ProjectID: "42", ConversationID: "sess-1", Prompt: "q"})

	select {
	case frag := <-s.Fragments():
		if frag.Text != "one" {
			t.Errorf("expected one, got %q", frag.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first fragment")
	}

	s.Cancel()

	// Channel must close promptly with no further fragments
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frag, ok := <-s.Fragments():
			if !ok {
				if s.State() != StateCancelled {
					t.Errorf("expected cancelled, got %s", s.State())
				}
				return
			}
			t.Errorf("fragment delivered after cancel: %q", frag.Text)
		case <-deadline:
			t.Fatal("stream did not close after cancel")
		}
	}
}

// fakeService counts conversation creations for session tests.
type fakeService struct {
	created  int
	messages int
}

func (f *fakeService) CreateConversation(ctx context.Context, projectID, name string) (string, error) {
	f.created++
	return fmt.Sprintf("sess-%d", f.created), nil
}

func (f *fakeService) SendMessage(ctx context.Context, projectID, sessionID, prompt string) (string, error) {
	f.messages++
	return "answer", nil
}

func (f *fakeService) StreamMessage(ctx context.Context, projectID, sessionID, prompt string) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func TestSession_LazyConversationReused(t *testing.T) {
	svc := &fakeService{}
	session := NewSession(svc, "42", "")
	ctx := context.Background()

	if session.ConversationID() != "" {
		t.Error("conversation should not exist before first turn")
	}

	if _, err := session.Ask(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := session.Ask(ctx, "second"); err != nil {
		t.Fatal(err)
	}

	if svc.created != 1 {
		t.Errorf("expected 1 conversation for 2 turns, got %d", svc.created)
	}
	if session.ConversationID() != "sess-1" {
		t.Errorf("expected sess-1, got %s", session.ConversationID())
	}
}

func TestSession_ExplicitConversationNotRecreated(t *testing.T) {
	svc := &fakeService{}
	session := NewSession(svc, "42", "existing")

	if _, err := session.Ask(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}

	if svc.created != 0 {
		t.Errorf("expected no conversation creation, got %d", svc.created)
	}
}
