package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLineDiffSummarizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev string
		curr string
		want string
	}{
		{"one added", "a\nb", "a\nb\nc", "1 line added."},
		{"two removed", "a\nb\nc", "a", "2 lines removed."},
		{"replaced", "a\nb", "a\nc", "1 line added, 1 line removed."},
		{"reordered", "a\nb", "b\na", "Lines were reordered or reformatted."},
		{"whitespace only", "a\nb", "  a\n\nb", "Lines were reordered or reformatted."},
	}

	s := NewLineDiffSummarizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Summarize(context.Background(), "https://example.com", tt.prev, tt.curr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newOpenAIStub(t *testing.T, content string, status int) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestGPTSummarizer_UsesModelSummary(t *testing.T) {
	t.Parallel()

	client := newOpenAIStub(t, `{"summary": "The price dropped to $10."}`, http.StatusOK)
	s := NewGPTSummarizer(client, openai.GPT3Dot5Turbo, 100, 0.2, zaptest.NewLogger(t))

	got, err := s.Summarize(context.Background(), "https://shop.example/item", "price $12", "price $10")
	require.NoError(t, err)
	assert.Equal(t, "The price dropped to $10.", got)
}

func TestGPTSummarizer_FallsBackOnMalformedResponse(t *testing.T) {
	t.Parallel()

	client := newOpenAIStub(t, "not json", http.StatusOK)
	s := NewGPTSummarizer(client, openai.GPT3Dot5Turbo, 100, 0.2, zaptest.NewLogger(t))

	got, err := s.Summarize(context.Background(), "https://example.com", "a", "a\nb")
	require.NoError(t, err)
	assert.Equal(t, "1 line added.", got)
}

func TestGPTSummarizer_FallsBackOnAPIError(t *testing.T) {
	t.Parallel()

	client := newOpenAIStub(t, "", http.StatusInternalServerError)
	s := NewGPTSummarizer(client, openai.GPT3Dot5Turbo, 100, 0.2, zaptest.NewLogger(t))

	got, err := s.Summarize(context.Background(), "https://example.com", "a\nb", "a")
	require.NoError(t, err)
	assert.Equal(t, "1 line removed.", got)
}
