package openai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

// Generator produces single-turn chat completions.
type Generator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewGenerator creates a chat completion client for model.
func NewGenerator(cfg Config, model string) *Generator {
	return &Generator{client: NewClient(cfg), model: model, logger: loggerOrNop(cfg.Logger)}
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Generation, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
				Strict: true,
			},
		}
	}

	op := req.Operation
	if op == "" {
		op = "generate"
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	metrics.LLMRequestDuration.WithLabelValues(op, g.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(op, g.model, "error").Inc()
		return domain.Generation{}, parseAPIError(op, err, upstream)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(op, g.model, "error").Inc()
		return domain.Generation{}, fmt.Errorf("%s: empty completion: %w", op, upstream)
	}
	metrics.LLMRequestsTotal.WithLabelValues(op, g.model, "success").Inc()
	metrics.LLMTokensTotal.WithLabelValues(op, g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(op, g.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	g.logger.Debug("Completion finished",
		zap.String("operation", op),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return domain.Generation{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// temperature maps 0 to the smallest positive float: go-openai drops a zero
// temperature from the request, which makes the server use its default of 1.
func temperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
