package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lLiuRunze/mail-agent/internal/config"
	"github.com/lLiuRunze/mail-agent/pkg/mock"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func replyWith(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(
		WithConfig(config.AI{URL: url, Key: "sk-test", Model: "deepseek-chat", MaxRetries: 3}),
		WithLogger(mock.SetupLogger(t)),
		WithBackoff(time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestCompleteSendsAuthAndModel(t *testing.T) {
	var got chatRequest
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		replyWith(t, w, "  hello there \n")
	})

	c := newTestClient(t, srv.URL)
	text, err := c.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	calls := 0
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		replyWith(t, w, "finally")
	})

	c := newTestClient(t, srv.URL)
	text, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, 3, calls)
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, srv.URL)
	_, err := c.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCompleteGivesUpAfterRetries(t *testing.T) {
	calls := 0
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	c := newTestClient(t, srv.URL)
	_, err := c.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "bare object",
			input: `{"priority": "high"}`,
			want:  `{"priority": "high"}`,
			ok:    true,
		},
		{
			name:  "wrapped in prose",
			input: "Here you go:\n```json\n{\"a\": {\"b\": 1}}\n```\nHope that helps!",
			want:  `{"a": {"b": 1}}`,
			ok:    true,
		},
		{
			name:  "braces inside strings",
			input: `prefix {"text": "a } inside \" quote"} suffix`,
			want:  `{"text": "a } inside \" quote"}`,
			ok:    true,
		},
		{
			name:  "no object",
			input: "just words",
			ok:    false,
		},
		{
			name:  "unbalanced",
			input: `{"a": 1`,
			ok:    false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.input)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestAnalyzePriorityParsesEmbeddedJSON(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		replyWith(t, w, `Sure! {"priority": "HIGH", "reason": "deadline tomorrow"} as requested`)
	})

	c := newTestClient(t, srv.URL)
	p, err := c.AnalyzePriority(context.Background(), message.Message{Subject: "urgent"})
	require.NoError(t, err)
	assert.Equal(t, "high", p.Priority)
	assert.Equal(t, "deadline tomorrow", p.Reason)
}

func TestAnalyzePriorityFallsBackOnGarbage(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		replyWith(t, w, "it seems fairly important I guess")
	})

	c := newTestClient(t, srv.URL)
	p, err := c.AnalyzePriority(context.Background(), message.Message{Subject: "hm"})
	require.NoError(t, err)
	assert.Equal(t, "normal", p.Priority)
}

func TestSummarizeFallsBackToHeaders(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := newTestClient(t, srv.URL)
	summary, err := c.Summarize(context.Background(), message.Message{
		From:    "alice@example.com",
		Subject: "standup moved",
	})
	require.NoError(t, err)
	assert.Contains(t, summary, "alice@example.com")
	assert.Contains(t, summary, "standup moved")
}

func TestGenerateReplyRejectsEmpty(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		replyWith(t, w, "")
	})

	c := newTestClient(t, srv.URL)
	_, err := c.GenerateReply(context.Background(), message.Message{Subject: "x"}, "")
	require.Error(t, err)
}
