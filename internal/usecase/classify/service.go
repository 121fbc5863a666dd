package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/llmjson"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// ReasonParserFallback marks a classification synthesized after an unparseable reply.
const ReasonParserFallback = "parser_fallback"

const prompt = "You are a strict classifier for a book recommender.\n" +
	"Return ONLY JSON.\n" +
	"Decide:\n" +
	"- intent: 'book_request' if the user asks for a book recommendation, a theme, vibe, genre, summary, author/title search, etc.\n" +
	"- intent: 'chit_chat' for greetings/small talk/personal questions.\n" +
	"- intent: 'other' for anything else.\n" +
	"- named_entity: extract a single explicit person/author/title mentioned, else 'none'.\n" +
	"- must_exact_match: true if the user asks ABOUT a specific real person/author/title " +
	"(e.g. 'a book about Michelle Obama', 'Find \"Dune\"'), false otherwise.\n" +
	"Example outputs:\n" +
	`{ "intent":"chit_chat", "named_entity":{"text":"","type":"none"}, "must_exact_match":false, "reason":"greeting" }` + "\n" +
	`{ "intent":"book_request", "named_entity":{"text":"Michelle Obama","type":"person"}, "must_exact_match":true, "reason":"specific person requested" }` + "\n" +
	`{ "intent":"book_request", "named_entity":{"text":"","type":"none"}, "must_exact_match":false, "reason":"theme request" }` + "\n" +
	"\nUSER QUERY:\n%s\n\nReturn JSON only."

var schema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"intent": {
			Type: jsonschema.String,
			Enum: []string{string(domain.IntentBookRequest), string(domain.IntentChitChat), string(domain.IntentOther)},
		},
		"named_entity": {
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"text": {Type: jsonschema.String},
				"type": {
					Type: jsonschema.String,
					Enum: []string{
						string(domain.EntityTitle), string(domain.EntityAuthor),
						string(domain.EntityPerson), string(domain.EntityNone),
					},
				},
			},
			Required:             []string{"text", "type"},
			AdditionalProperties: false,
		},
		"must_exact_match": {Type: jsonschema.Boolean},
		"reason":           {Type: jsonschema.String},
	},
	Required:             []string{"intent", "named_entity", "must_exact_match", "reason"},
	AdditionalProperties: false,
}

type reply struct {
	Intent      string `json:"intent"`
	NamedEntity struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"named_entity"`
	MustExactMatch bool   `json:"must_exact_match"`
	Reason         string `json:"reason"`
}

// Service classifies query intent and extracts a named entity.
type Service struct {
	gen Generator
}

// New creates a Service.
func New(gen Generator) *Service {
	return &Service{gen: gen}
}

// Classify returns an error only when the model call fails. An unparseable
// reply classifies as IntentOther.
func (s *Service) Classify(ctx context.Context, query string) (domain.Classification, error) {
	out, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Operation: "classify",
		Prompt:    fmt.Sprintf(prompt, query),
		MaxTokens: 300,
		Schema:    &domain.ResponseSchema{Name: "query_classification", Schema: &schema},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w", err)
	}

	var r reply
	if err := llmjson.Decode(out.Text, &r); err != nil {
		logger.FromContext(ctx).Warn("Unparseable classification", zap.String("raw", out.Text), zap.Error(err))
		return fallback(), nil
	}
	return normalize(r), nil
}

func fallback() domain.Classification {
	return domain.Classification{
		Intent: domain.IntentOther,
		Entity: domain.Entity{Type: domain.EntityNone},
		Reason: ReasonParserFallback,
	}
}

// normalize maps unknown enum values onto safe defaults.
func normalize(r reply) domain.Classification {
	c := domain.Classification{
		Intent:         domain.IntentOther,
		MustExactMatch: r.MustExactMatch,
		Reason:         strings.TrimSpace(r.Reason),
		Entity:         domain.Entity{Type: domain.EntityNone},
	}

	switch intent := domain.Intent(strings.ToLower(strings.TrimSpace(r.Intent))); intent {
	case domain.IntentBookRequest, domain.IntentChitChat:
		c.Intent = intent
	}

	switch typ := domain.EntityType(strings.ToLower(strings.TrimSpace(r.NamedEntity.Type))); typ {
	case domain.EntityTitle, domain.EntityAuthor, domain.EntityPerson:
		if text := strings.TrimSpace(r.NamedEntity.Text); text != "" {
			c.Entity = domain.Entity{Text: text, Type: typ}
		}
	}
	return c
}
