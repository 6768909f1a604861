package chat

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Service is the slice of the remote API a chat session needs.
// *api.Client satisfies this.
type Service interface {
	CreateConversation(ctx context.Context, projectID, name string) (string, error)
	SendMessage(ctx context.Context, projectID, sessionID, prompt string) (string, error)
	StreamMessage(ctx context.Context, projectID, sessionID, prompt string) (io.ReadCloser, error)
}

// Session binds turns to one conversation of a project. The conversation is
// created lazily on the first turn and reused for subsequent turns; it lives
// only as long as the calling process.
type Session struct {
	svc       Service
	consumer  *Consumer
	projectID string

	mu             sync.Mutex
	conversationID string
}

// NewSession creates a session for a project. conversationID may be empty,
// in which case the first turn creates one.
func NewSession(svc Service, projectID, conversationID string, opts ...ConsumerOption) *Session {
	return &Session{
		svc:            svc,
		consumer:       NewConsumer(svc, opts...),
		projectID:      projectID,
		conversationID: conversationID,
	}
}

// ConversationID returns the active conversation, or empty before the first
// turn of a lazily created session.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) ensureConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID != "" {
		return s.conversationID, nil
	}

	name := "agentsync-" + uuid.NewString()
	id, err := s.svc.CreateConversation(ctx, s.projectID, name)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	s.conversationID = id

	return id, nil
}

// Ask sends a prompt with streaming off and blocks for the full response.
func (s *Session) Ask(ctx context.Context, prompt string) (string, error) {
	conversationID, err := s.ensureConversation(ctx)
	if err != nil {
		return "", err
	}
	return s.svc.SendMessage(ctx, s.projectID, conversationID, prompt)
}

// Stream opens a streaming turn. The error covers conversation creation
// only; stream failures surface through the returned Stream.
func (s *Session) Stream(ctx context.Context, prompt string) (*Stream, error) {
	conversationID, err := s.ensureConversation(ctx)
	if err != nil {
		return nil, err
	}

	return s.consumer.Stream(ctx, Turn{
		ProjectID:      s.projectID,
		ConversationID: conversationID,
		Prompt:         prompt,
	}), nil
}
