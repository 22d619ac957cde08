package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

const defaultSystemPrompt = "You are a helpful assistant with access to the user's " +
	"conversation history and long-term memories. Use the provided context when relevant."

// OpenAIConfig configures an OpenAI-compatible chat-completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGenerator calls a /v1/chat/completions endpoint.
type OpenAIGenerator struct {
	config OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIGenerator creates a generator with defaults filled in.
func NewOpenAIGenerator(config OpenAIConfig, logger *zap.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &OpenAIGenerator{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With(zap.String("component", "inference_openai")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// buildMessages folds the context window into the system message and
// keeps the prompt as the sole user message.
func (g *OpenAIGenerator) buildMessages(req Request) []chatMessage {
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}
	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nRelevant context:\n")
		for _, entry := range req.Context {
			b.WriteString("- ")
			b.WriteString(entry)
			b.WriteString("\n")
		}
		system = b.String()
	}
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
}

func (g *OpenAIGenerator) buildRequest(req Request, stream bool) chatRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == nil && g.config.Temperature > 0 {
		temperature = &g.config.Temperature
	}
	return chatRequest{
		Model:       g.config.Model,
		Messages:    g.buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

func (g *OpenAIGenerator) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, mapStatusError(resp.StatusCode)
	}
	return resp, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := g.post(ctx, g.buildRequest(req, false))
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Response{}, mapTransportError(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, types.NewError(types.ErrInferenceUnavailable, "chat response has no choices")
	}

	return Response{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (g *OpenAIGenerator) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := g.post(ctx, g.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				out <- Chunk{Done: true}
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				g.logger.Warn("skipping undecodable stream chunk", zap.Error(err))
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- Chunk{Delta: choice.Delta.Content}:
					case <-ctx.Done():
						out <- Chunk{Done: true, Err: mapTransportError(ctx.Err())}
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Done: true, Err: mapTransportError(err)}
			return
		}
		out <- Chunk{Done: true}
	}()
	return out, nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrInferenceTimeout, "inference request timed out").
			WithCause(err).WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// http.Client timeouts surface as url.Error with Timeout()=true.
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return types.NewError(types.ErrInferenceTimeout, "inference request timed out").
			WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrInferenceUnavailable, "inference endpoint unreachable").
		WithCause(err).WithRetryable(true)
}

func mapStatusError(status int) error {
	e := types.NewError(types.ErrInferenceUnavailable,
		fmt.Sprintf("inference endpoint returned %d", status))
	if status >= 500 || status == http.StatusTooManyRequests {
		e = e.WithRetryable(true)
	}
	return e
}

var _ Generator = (*OpenAIGenerator)(nil)
