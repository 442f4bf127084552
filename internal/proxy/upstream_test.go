package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeUpstreamError(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantMsg   string
		wantShape string
	}{
		{
			name:      "openai error object",
			body:      `{"error":{"message":"rate limit exceeded","type":"requests"}}`,
			wantMsg:   "rate limit exceeded",
			wantShape: ShapeOpenAI,
		},
		{
			name:      "openai choices",
			body:      `{"choices":[{"message":{"content":"quota exhausted"}}]}`,
			wantMsg:   "quota exhausted",
			wantShape: ShapeOpenAI,
		},
		{
			name:      "huggingface generated text",
			body:      `[{"generated_text":"model overloaded"}]`,
			wantMsg:   "model overloaded",
			wantShape: ShapeHuggingFace,
		},
		{
			name:      "anthropic content blocks",
			body:      `{"content":[{"type":"text","text":"overloaded_error"}]}`,
			wantMsg:   "overloaded_error",
			wantShape: ShapeAnthropic,
		},
		{
			name:      "empty body",
			body:      "",
			wantShape: ShapeUnrecognized,
		},
		{
			name:      "not json",
			body:      "<html>502 Bad Gateway</html>",
			wantShape: ShapeUnrecognized,
		},
		{
			name:      "unknown json shape",
			body:      `{"status":"error"}`,
			wantShape: ShapeUnrecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, shape := DecodeUpstreamError([]byte(tt.body))
			assert.Equal(t, tt.wantMsg, msg)
			assert.Equal(t, tt.wantShape, shape)
		})
	}
}
