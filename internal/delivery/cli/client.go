// Package cli is the terminal client for the streaming chat endpoints.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"taskstream/internal/domain/frame"
	"taskstream/internal/domain/transcript"
)

// ErrServer is wrapped around non-2xx responses.
var ErrServer = errors.New("server rejected request")

// ChatRequest mirrors the body of POST /api/chat/stream.
type ChatRequest struct {
	Query       string                  `json:"query"`
	ThreadID    string                  `json:"thread_id,omitempty"`
	RecordID    string                  `json:"record_id,omitempty"`
	Attachments []transcript.Attachment `json:"attachments,omitempty"`
}

// Result summarises one streamed answer.
type Result struct {
	Answer  string
	Frames  int
	Stopped bool
	Failure string
}

// Client talks to a taskstream server.
type Client struct {
	BaseURL string
	// Token is sent as a bearer credential when set.
	Token string
	// UserID is sent as X-User-ID when no token is configured.
	UserID string
	HTTP   *http.Client
}

// NewClient returns a client for baseURL.
func NewClient(baseURL, token, userID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		UserID:  userID,
		HTTP:    &http.Client{},
	}
}

// Stream posts req and hands every frame to onFrame as it arrives. The
// stream ends at the first terminal frame or when the server closes it.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onFrame func(frame.Frame)) (Result, error) {
	var result Result
	resp, err := c.post(ctx, "/api/chat/stream", req, "text/event-stream")
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return result, err
	}

	var answer strings.Builder
	reader := frame.NewReader(resp.Body)
	for {
		f, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Answer = answer.String()
			return result, fmt.Errorf("read stream: %w", err)
		}
		result.Frames++
		if onFrame != nil {
			onFrame(f)
		}
		switch f.MessageType {
		case frame.MessageContinue:
			answer.WriteString(f.Content)
		case frame.MessageInfo:
			result.Stopped = true
		case frame.MessageError:
			result.Failure = f.Content
		}
		if f.Terminal() {
			break
		}
	}
	result.Answer = answer.String()
	return result, nil
}

// Stop asks the server to stop the caller's running task. It reports whether
// the server acknowledged the request.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	resp, err := c.post(ctx, "/api/chat/stop", map[string]string{}, "application/json")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return false, err
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode stop response: %w", err)
	}
	return body.Success, nil
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return fmt.Errorf("%w: %d %s", ErrServer, resp.StatusCode, body.Error)
}
