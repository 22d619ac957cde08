package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIGenerator(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Second,
	}, nil)
}

func TestGenerateFoldsContextIntoSystemMessage(t *testing.T) {
	var got chatRequest
	gen := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		resp := chatResponse{Model: "gpt-4o-mini"}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: "Paris."}})
		resp.Usage.PromptTokens = 12
		resp.Usage.CompletionTokens = 2
		_ = json.NewEncoder(w).Encode(resp)
	})

	resp, err := gen.Generate(context.Background(), Request{
		Context: []string{"user lives in France", "user asked about capitals before"},
		Prompt:  "What is the capital?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", resp.Text)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 2, resp.OutputTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "user lives in France")
	assert.Equal(t, "What is the capital?", got.Messages[1].Content)
}

func TestGenerateMapsServerErrors(t *testing.T) {
	gen := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInferenceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestGenerateMapsTimeout(t *testing.T) {
	gen := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gen.Generate(ctx, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInferenceTimeout, types.GetErrorCode(err))
}

func TestGenerateUnreachableEndpoint(t *testing.T) {
	gen := NewOpenAIGenerator(OpenAIConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	}, nil)

	_, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInferenceUnavailable, types.GetErrorCode(err))
}

func TestGenerateStream(t *testing.T) {
	gen := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"Pa", "ris", "."} {
			chunk := map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": delta}}},
			}
			data, _ := json.Marshal(chunk)
			_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	chunks, err := gen.GenerateStream(context.Background(), Request{Prompt: "capital?"})
	require.NoError(t, err)

	var text string
	var done bool
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		text += chunk.Delta
		done = chunk.Done
	}
	assert.Equal(t, "Paris.", text)
	assert.True(t, done)
}
