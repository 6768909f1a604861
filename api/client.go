// Package api is the HTTP client for the remote knowledge-base service.
// The service is a black box with four endpoints: project listing, source
// upload, conversation creation, and message send (streaming or not).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

const defaultBaseURL = "https://app.customgpt.ai/api/v1"

// APIError is a non-2xx response from the remote service. Temporary
// reports whether the failure is worth retrying.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the error is transient: rate limiting and
// server-side failures are retryable, other 4xx are not.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client

	// streamClient carries no overall timeout: a chat turn may legitimately
	// stream for longer than any fixed request deadline. Stalled streams are
	// cut by the chat consumer's per-event watchdog instead.
	streamClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		streamClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("AGENTSYNC_API_KEY")
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("CUSTOMGPT_API_KEY")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not set (use AGENTSYNC_API_KEY environment variable or the config file)")
	}

	return c, nil
}

// Project is one remote knowledge-base project.
type Project struct {
	ID           int64  `json:"id"`
	ProjectName  string `json:"project_name"`
	IsChatActive bool   `json:"is_chat_active"`
}

type projectListResponse struct {
	Data  []Project `json:"data"`
	Total int       `json:"total"`
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/projects", c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed projectListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode project list: %w", err)
	}

	return parsed.Data, nil
}

// UploadSource uploads one file's content as a source of the project. The
// reader is consumed exactly once; the multipart body is built in memory.
func (c *Client) UploadSource(ctx context.Context, projectID, name string, r io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read source content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/sources", c.baseURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload source: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

type conversationResponse struct {
	Data struct {
		SessionID string `json:"session_id"`
	} `json:"data"`
}

// CreateConversation opens a new conversation for the project and returns
// its session ID.
func (c *Client) CreateConversation(ctx context.Context, projectID, name string) (string, error) {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/conversations", c.baseURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var parsed conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode conversation response: %w", err)
	}
	if parsed.Data.SessionID == "" {
		return "", fmt.Errorf("conversation response missing session_id")
	}

	return parsed.Data.SessionID, nil
}

type messageRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type messageResponse struct {
	Data struct {
		OpenAIResponse string `json:"openai_response"`
	} `json:"data"`
}

// SendMessage sends a prompt with streaming negotiated off and returns the
// full response text once available.
func (c *Client) SendMessage(ctx context.Context, projectID, sessionID, prompt string) (string, error) {
	resp, err := c.postMessage(ctx, projectID, sessionID, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var parsed messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode message response: %w", err)
	}

	return parsed.Data.OpenAIResponse, nil
}

// StreamMessage sends a prompt with streaming on and returns the raw
// server-sent event body. The caller owns the body and must close it.
func (c *Client) StreamMessage(ctx context.Context, projectID, sessionID, prompt string) (io.ReadCloser, error) {
	resp, err := c.postMessage(ctx, projectID, sessionID, prompt, true)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

func (c *Client) postMessage(ctx context.Context, projectID, sessionID, prompt string, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(messageRequest{Prompt: prompt, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/conversations/%s/messages", c.baseURL, projectID, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	hc := c.client
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		hc = c.streamClient
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(bytes.TrimSpace(body))

	var parsed struct {
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Data.Message != "" {
		msg = parsed.Data.Message
	}

	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
