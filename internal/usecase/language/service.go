package language

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/logger"
)

const detectPrompt = "Return ONLY the two-letter ISO 639-1 language code of the USER QUERY text.\n" +
	"If uncertain, return 'en'.\n\nUSER QUERY: %s"

var (
	bareCode = regexp.MustCompile(`^[a-z]{2}$`)
	wordCode = regexp.MustCompile(`\b[a-z]{2}\b`)
	anyCode  = regexp.MustCompile(`[a-z]{2}`)
)

// fillers are two-letter English words that are also valid codes
// ("is" is Icelandic). A chatty reply wraps the real code in them.
var fillers = map[string]struct{}{
	"am": {}, "an": {}, "as": {}, "at": {}, "be": {}, "by": {}, "if": {}, "in": {},
	"is": {}, "it": {}, "my": {}, "no": {}, "of": {}, "on": {}, "or": {}, "so": {}, "to": {},
}

// Service detects the language a query is written in.
type Service struct {
	gen      Generator
	fallback domain.Language
}

// New creates a Service. fallbackCode must be a valid ISO 639-1 code.
func New(gen Generator, fallbackCode string) (*Service, error) {
	fb, ok := Lookup(fallbackCode)
	if !ok {
		return nil, fmt.Errorf("unsupported fallback language %q", fallbackCode)
	}
	return &Service{gen: gen, fallback: fb}, nil
}

// Fallback returns the language used when detection fails.
func (s *Service) Fallback() domain.Language { return s.fallback }

// Detect never fails: any error yields the fallback language.
func (s *Service) Detect(ctx context.Context, query string) domain.Language {
	log := logger.FromContext(ctx)

	out, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Operation: "language",
		Prompt:    fmt.Sprintf(detectPrompt, query),
		MaxTokens: 16,
	})
	if err != nil {
		log.Warn("Language detection failed, using fallback",
			zap.String("fallback", s.fallback.Code), zap.Error(err))
		return s.fallback
	}

	code := ParseCode(out.Text)
	lang, ok := Lookup(code)
	if !ok {
		log.Debug("Unrecognized language code, using fallback",
			zap.String("raw", out.Text), zap.String("fallback", s.fallback.Code))
		return s.fallback
	}
	return lang
}

// ParseCode extracts a two-letter code from a model reply. A reply that is
// only the code (quotes and trailing dot allowed) wins; otherwise the first
// standalone token that is not an English filler, then the last standalone
// token, then any two letters. Returns "" when none is present.
func ParseCode(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if bare := strings.Trim(raw, " \t\n'\"`.:"); bareCode.MatchString(bare) {
		return bare
	}
	words := wordCode.FindAllString(raw, -1)
	for _, w := range words {
		if _, ok := fillers[w]; !ok {
			return w
		}
	}
	if len(words) > 0 {
		return words[len(words)-1]
	}
	return anyCode.FindString(raw)
}

// Lookup validates an ISO 639-1 code and resolves its English name.
func Lookup(code string) (domain.Language, bool) {
	if len(code) != 2 {
		return domain.Language{}, false
	}
	base, err := language.ParseBase(code)
	if err != nil || base.String() != code {
		return domain.Language{}, false
	}
	name := display.English.Languages().Name(language.Make(code))
	if name == "" {
		return domain.Language{}, false
	}
	return domain.Language{Code: code, Name: name}, true
}
