// Package provider holds per-provider SSE payload parsers treated purely
// as opaque wire-format decoders: no provider API calls are made from
// this package, only byte-stream interpretation of what a provider's
// streaming endpoint would have sent.
package provider

import (
	"encoding/json"
	"fmt"

	"github.com/conductorhq/conductor-go/streaming"
)

// openAIChunk mirrors the minimal shape of an OpenAI-style streaming
// completion delta.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ParseOpenAI decodes one OpenAI-shaped SSE data payload.
func ParseOpenAI(raw []byte) (streaming.Chunk, error) {
	var c openAIChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return streaming.Chunk{}, fmt.Errorf("provider: decode openai chunk: %w", err)
	}
	if len(c.Choices) == 0 {
		return streaming.Chunk{}, nil
	}
	choice := c.Choices[0]
	return streaming.Chunk{
		Content: choice.Delta.Content,
		IsFinal: choice.FinishReason != nil,
	}, nil
}

// anthropicChunk mirrors the minimal shape of an Anthropic-style
// streaming content-block delta.
type anthropicChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// ParseAnthropic decodes one Anthropic-shaped SSE data payload.
func ParseAnthropic(raw []byte) (streaming.Chunk, error) {
	var c anthropicChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return streaming.Chunk{}, fmt.Errorf("provider: decode anthropic chunk: %w", err)
	}
	return streaming.Chunk{
		Content: c.Delta.Text,
		IsFinal: c.Type == "message_stop",
	}, nil
}

// googleChunk mirrors the minimal shape of a Google-style streaming
// candidate delta.
type googleChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// ParseGoogle decodes one Google-shaped SSE data payload.
func ParseGoogle(raw []byte) (streaming.Chunk, error) {
	var c googleChunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return streaming.Chunk{}, fmt.Errorf("provider: decode google chunk: %w", err)
	}
	if len(c.Candidates) == 0 {
		return streaming.Chunk{}, nil
	}
	candidate := c.Candidates[0]
	var text string
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}
	return streaming.Chunk{
		Content: text,
		IsFinal: candidate.FinishReason != "",
	}, nil
}
