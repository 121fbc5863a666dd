package domain

import (
	"context"
	"encoding/json"
)

// Generator produces text from a prompt. Implementations may honour Schema
// for structured output but callers must still validate the result.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// Moderator classifies raw text for safety.
type Moderator interface {
	Moderate(ctx context.Context, text string) (ModerationResult, error)
}

// SpeechSynthesizer turns text into an MP3 payload.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// GenerateRequest is a single-turn generation call.
type GenerateRequest struct {
	// Operation labels the call in metrics and logs (classify, language, select, compose, rewrite).
	Operation   string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// Schema, when set, asks for JSON output matching it.
	Schema *ResponseSchema
}

// ResponseSchema names a JSON schema for structured output.
type ResponseSchema struct {
	Name   string
	Schema json.Marshaler
}

// Generation is the text produced by a Generator.
type Generation struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModerationResult is the verdict of a Moderator.
type ModerationResult struct {
	Flagged    bool
	Categories []string
}
