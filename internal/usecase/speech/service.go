// Package speech validates text-to-speech requests before synthesis.
package speech

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// MaxChars is the longest text sent for synthesis, in runes.
const MaxChars = 1800

// DefaultVoice is used when none is given.
const DefaultVoice = "alloy"

// Voices lists the accepted voice names.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Service is the speech usecase.
type Service struct {
	synth        Synthesizer
	maxChars     int
	defaultVoice string
}

// New creates a Service. maxChars <= 0 means MaxChars.
func New(s Synthesizer, maxChars int) *Service {
	if maxChars <= 0 {
		maxChars = MaxChars
	}
	return &Service{synth: s, maxChars: maxChars, defaultVoice: DefaultVoice}
}

// WithDefaultVoice replaces the voice used when a request names none.
// Unknown voices are rejected.
func (s *Service) WithDefaultVoice(voice string) (*Service, error) {
	voice = strings.ToLower(strings.TrimSpace(voice))
	if !slices.Contains(Voices, voice) {
		return nil, fmt.Errorf("unknown default voice %q", voice)
	}
	s.defaultVoice = voice
	return s, nil
}

// Synthesize trims and truncates text, validates the voice and returns MP3 bytes.
func (s *Service) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewMalformed("text", "is required")
	}
	if r := []rune(text); len(r) > s.maxChars {
		text = string(r[:s.maxChars])
	}

	voice = strings.ToLower(strings.TrimSpace(voice))
	if voice == "" {
		voice = s.defaultVoice
	}
	if !slices.Contains(Voices, voice) {
		return nil, domain.NewMalformed("voice", "must be one of "+strings.Join(Voices, ", "))
	}

	audio, err := s.synth.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	return audio, nil
}
