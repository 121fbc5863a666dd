package openai

import (
	"context"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/librarian/internal/metrics"
)

// maxAudioBytes bounds a single synthesized payload.
const maxAudioBytes = 16 << 20

// Speech synthesizes MP3 audio.
type Speech struct {
	client *openai.Client
	model  string
}

// NewSpeech creates a text-to-speech client for model.
func NewSpeech(cfg Config, model string) *Speech {
	return &Speech{client: NewClient(cfg), model: model}
}

// Synthesize implements domain.SpeechSynthesizer.
func (s *Speech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	start := time.Now()
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("speech", s.model, "error").Inc()
		return nil, parseAPIError("speech", err, upstream)
	}
	defer resp.Close()

	audio, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes))
	metrics.LLMRequestDuration.WithLabelValues("speech", s.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("speech", s.model, "error").Inc()
		return nil, fmt.Errorf("speech: read audio: %w: %w", upstream, err)
	}
	metrics.LLMRequestsTotal.WithLabelValues("speech", s.model, "success").Inc()
	return audio, nil
}
