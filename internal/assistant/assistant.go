// Package assistant fetches synthesized speech from the interview backend
// and exposes it as a PCM source for the mixer.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BioHazard786/discushy/internal/version"
)

// ConversationPath is appended to the backend base URL.
const ConversationPath = "company/live/interview/conversation/ai"

// ErrDisabled is returned by Speak when no backend URL is set.
var ErrDisabled = errors.New("assistant: backend URL not configured")

// Person is one meeting participant as the backend expects it.
type Person struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Conversation is the request body for one assistant turn.
type Conversation struct {
	JobPostID        string   `json:"jobPostId"`
	CandidateID      string   `json:"candidateId"`
	People           []Person `json:"people"`
	Sender           string   `json:"sender"`
	ConversationText string   `json:"conversationText"`
}

// Client talks to the interview assistant backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient targets baseURL. A nil httpClient uses one without an overall
// timeout, since the response streams for as long as the speech lasts.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
		}}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "assistant"),
	}
}

// Enabled reports whether a backend URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// Speak posts conv and returns the streamed reply as a PCM source. The
// caller owns the returned Stream and must Close it.
func (c *Client) Speak(ctx context.Context, conv Conversation) (*Stream, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+ConversationPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("assistant request: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	c.logger.Debug("Streaming assistant speech", "content_type", resp.Header.Get("Content-Type"))
	return newStream(resp.Body, c.logger), nil
}
