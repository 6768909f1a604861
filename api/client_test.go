package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(WithBaseURL(srv.URL), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, srv
}

func TestListProjects(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"data":[{"id":42,"project_name":"docs","is_chat_active":true}],"total":1}`)
	}))

	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	if projects[0].ID != 42 || projects[0].ProjectName != "docs" || !projects[0].IsChatActive {
		t.Errorf("unexpected project: %+v", projects[0])
	}
}

func TestUploadSource_Multipart(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/42/sources" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart request: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file field: %v", err)
		}
		defer file.Close()

		if header.Filename != "a.txt" {
			t.Errorf("unexpected filename %s", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "hello" {
			t.Errorf("unexpected content %q", content)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.UploadSource(context.Background(), "42", "a.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
}

func TestUploadSource_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"server error retryable", http.StatusServiceUnavailable, true},
		{"rate limit retryable", http.StatusTooManyRequests, true},
		{"auth error permanent", http.StatusUnauthorized, false},
		{"validation error permanent", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			err := client.UploadSource(context.Background(), "42", "a.txt", strings.NewReader("x"))
			if err == nil {
				t.Fatal("expected error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if apiErr.Temporary() != tt.temporary {
				t.Errorf("Temporary() = %v, want %v", apiErr.Temporary(), tt.temporary)
			}
		})
	}
}

func TestCreateConversation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/42/conversations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":{"session_id":"sess-1"}}`)
	}))

	sessionID, err := client.CreateConversation(context.Background(), "42", "cli session")
	if err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}
	if sessionID != "sess-1" {
		t.Errorf("expected sess-1, got %s", sessionID)
	}
}

func TestSendMessage_NonStreaming(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/42/conversations/sess-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":false`) {
			t.Errorf("expected stream off, body: %s", body)
		}
		fmt.Fprint(w, `{"data":{"openai_response":"4 is the answer"}}`)
	}))

	answer, err := client.SendMessage(context.Background(), "42", "sess-1", "2+2?")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if answer != "4 is the answer" {
		t.Errorf("unexpected answer %q", answer)
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("AGENTSYNC_API_KEY", "")
	t.Setenv("CUSTOMGPT_API_KEY", "")

	_, err := NewClient(WithBaseURL("http://localhost"))
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}
