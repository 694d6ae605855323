// Package ai calls a chat-completions API for reply drafting, summaries,
// and priority triage. Responses are free text that may embed JSON; callers
// extract the first balanced object instead of trusting the whole body.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/internal/config"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
)

// Generator produces text from prompts.
type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg        config.AI
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration
}

type ClientOption func(*Client)

func WithConfig(cfg config.AI) ClientOption {
	return func(c *Client) { c.cfg = cfg }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithBackoff overrides the base retry delay. Tests shrink it.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	c := Client{backoff: time.Second}
	for _, opt := range opts {
		opt(&c)
	}
	if c.cfg.URL == "" || c.cfg.Key == "" {
		return nil, errors.New("ai endpoint and key are required")
	}
	if c.logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	return &c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one prompt and returns the model's reply text. Rate limits,
// server errors, and network failures are retried with exponential backoff,
// capped at a few seconds per wait.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding request")
	}

	retries := c.cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
			c.logger.Warn("retrying completion request",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		text, retryable, err := c.complete(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", errors.Wrapf(lastErr, "completion failed after %d attempts", retries)
}

func (c *Client) complete(ctx context.Context, payload []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", false, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, errors.Wrap(err, "calling completion endpoint")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, errors.Wrap(err, "reading response")
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, errors.Wrap(err, "decoding response")
	}
	if len(parsed.Choices) == 0 {
		return "", false, errors.New("completion response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), false, nil
}

// ExtractJSON returns the first balanced {...} span in s. Models often wrap
// JSON in prose or markdown fences.
func ExtractJSON(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", false
}

const (
	replySystemPrompt = "You draft concise, polite email replies. Reply in the language of the original message. Output only the reply body, no subject line and no signature placeholders."

	summarySystemPrompt = "You summarize emails in two or three sentences. Mention any deadline or requested action. Output only the summary."

	prioritySystemPrompt = `You triage emails. Respond with JSON: {"priority": "high"|"normal"|"low", "reason": "<one sentence>"}.`
)

// Priority is the triage verdict for one message.
type Priority struct {
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

func describeMessage(m message.Message) string {
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n\n%s",
		m.From, m.Subject, m.Date.Format(time.RFC1123Z), m.Body)
}

// GenerateReply drafts a reply body for the given message.
func (c *Client) GenerateReply(ctx context.Context, m message.Message, instruction string) (string, error) {
	user := describeMessage(m)
	if instruction != "" {
		user += "\n\nGuidance for the reply: " + instruction
	}
	text, err := c.Complete(ctx, replySystemPrompt, user)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("model produced an empty reply")
	}
	return text, nil
}

// Summarize produces a short summary of the message, degrading to a header
// line when the model is unavailable.
func (c *Client) Summarize(ctx context.Context, m message.Message) (string, error) {
	text, err := c.Complete(ctx, summarySystemPrompt, describeMessage(m))
	if err != nil || text == "" {
		c.logger.Warn("summary generation failed, using header fallback")
		return fmt.Sprintf("From %s: %s", m.From, m.Subject), nil
	}
	return text, nil
}

// AnalyzePriority asks the model to triage the message. Unparseable output
// degrades to normal priority rather than failing the call.
func (c *Client) AnalyzePriority(ctx context.Context, m message.Message) (Priority, error) {
	fallback := Priority{Priority: "normal", Reason: "triage unavailable"}

	text, err := c.Complete(ctx, prioritySystemPrompt, describeMessage(m))
	if err != nil {
		c.logger.Warn("priority triage failed, defaulting to normal")
		return fallback, nil
	}
	span, ok := ExtractJSON(text)
	if !ok {
		return fallback, nil
	}
	var p Priority
	if err := json.Unmarshal([]byte(span), &p); err != nil || p.Priority == "" {
		return fallback, nil
	}
	p.Priority = strings.ToLower(p.Priority)
	return p, nil
}
