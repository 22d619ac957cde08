package memory

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter measures text length in model tokens. Implementations
// must never fail; budget enforcement degrades to an estimate instead
// of blocking the request path.
type TokenCounter interface {
	CountTokens(text string) int
}

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// TiktokenCounter counts tokens with the tiktoken encoding for a model,
// falling back to a len/4 estimate when the encoding cannot be loaded
// (first use may download encoding data).
type TiktokenCounter struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenCounter creates a counter for the given model. Unknown
// models use cl100k_base.
func NewTiktokenCounter(model string, logger *zap.Logger) *TiktokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, enc := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = enc
				ok = true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = err
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// CountTokens returns the token count, or len(text)/4 when the encoding
// is unavailable.
func (c *TiktokenCounter) CountTokens(text string) int {
	if err := c.init(); err != nil {
		c.logger.Warn("tiktoken unavailable, using character estimate", zap.Error(err))
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates tokens as len/4. Used in tests and as
// the offline fallback.
type EstimateCounter struct{}

func (EstimateCounter) CountTokens(text string) int { return estimateTokens(text) }

func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

var (
	_ TokenCounter = (*TiktokenCounter)(nil)
	_ TokenCounter = EstimateCounter{}
)
