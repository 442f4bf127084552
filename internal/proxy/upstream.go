package proxy

import "encoding/json"

// Upstream error payload shapes. Providers disagree on where the human
// readable message lives, so decoding tries each known shape in turn and
// falls back to "unrecognized" instead of probing properties at runtime.

// Shape labels attached to the span on upstream errors.
const (
	ShapeOpenAI       = "openai"
	ShapeHuggingFace  = "huggingface"
	ShapeAnthropic    = "anthropic"
	ShapeUnrecognized = "unrecognized"
)

type openAIPayload struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type huggingFaceEntry struct {
	GeneratedText string `json:"generated_text"`
}

type anthropicPayload struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// DecodeUpstreamError extracts a message from an upstream error body and
// reports which shape matched. An empty or unparseable body yields
// ("", "unrecognized").
func DecodeUpstreamError(data []byte) (message, shape string) {
	if len(data) == 0 {
		return "", ShapeUnrecognized
	}

	var oa openAIPayload
	if err := json.Unmarshal(data, &oa); err == nil {
		if oa.Error != nil && oa.Error.Message != "" {
			return oa.Error.Message, ShapeOpenAI
		}
		if len(oa.Choices) > 0 && oa.Choices[0].Message.Content != "" {
			return oa.Choices[0].Message.Content, ShapeOpenAI
		}
	}

	var hf []huggingFaceEntry
	if err := json.Unmarshal(data, &hf); err == nil {
		if len(hf) > 0 && hf[0].GeneratedText != "" {
			return hf[0].GeneratedText, ShapeHuggingFace
		}
	}

	var an anthropicPayload
	if err := json.Unmarshal(data, &an); err == nil {
		if len(an.Content) > 0 && an.Content[0].Text != "" {
			return an.Content[0].Text, ShapeAnthropic
		}
	}

	return "", ShapeUnrecognized
}
