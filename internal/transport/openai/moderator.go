package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

// Moderator calls the hosted moderation endpoint.
type Moderator struct {
	client *openai.Client
	model  string
}

// NewModerator creates a moderation client for model.
func NewModerator(cfg Config, model string) *Moderator {
	return &Moderator{client: NewClient(cfg), model: model}
}

// Moderate implements domain.Moderator. Blank text is clean without a call.
func (m *Moderator) Moderate(ctx context.Context, text string) (domain.ModerationResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ModerationResult{}, nil
	}

	start := time.Now()
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: m.model})
	metrics.LLMRequestDuration.WithLabelValues("moderation", m.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("moderation", m.model, "error").Inc()
		return domain.ModerationResult{}, parseAPIError("moderation", err, upstream)
	}
	if len(resp.Results) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues("moderation", m.model, "error").Inc()
		return domain.ModerationResult{}, fmt.Errorf("moderation: empty result: %w", upstream)
	}
	metrics.LLMRequestsTotal.WithLabelValues("moderation", m.model, "success").Inc()

	r := resp.Results[0]
	return domain.ModerationResult{Flagged: r.Flagged, Categories: flaggedCategories(r.Categories)}, nil
}

// flaggedCategories lists the JSON names of the categories set to true.
func flaggedCategories(c openai.ResultCategories) []string {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var flags map[string]bool
	if json.Unmarshal(raw, &flags) != nil {
		return nil
	}
	var out []string
	for name, set := range flags {
		if set {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
