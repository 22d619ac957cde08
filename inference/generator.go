package inference

import "context"

// Request carries the assembled context and the user prompt for one
// generation call.
type Request struct {
	// Context holds merged memory texts in presentation order.
	Context []string
	// Prompt is the current user message.
	Prompt string
	// System optionally overrides the system instruction.
	System string
	// MaxTokens bounds the completion length; 0 uses the client default.
	MaxTokens int
	// Temperature overrides sampling temperature when non-nil.
	Temperature *float64
}

// Response is a completed generation.
type Response struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
}

// Chunk is one streamed fragment. Err is set on the terminal chunk when
// the stream failed mid-flight.
type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

// Generator produces responses. Implementations map timeouts to
// INFERENCE_TIMEOUT and connectivity or server failures to
// INFERENCE_UNAVAILABLE.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// GenerateStream emits chunks until Done or Err. The channel is
	// closed after the terminal chunk.
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
