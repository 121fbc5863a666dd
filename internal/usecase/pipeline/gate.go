package pipeline

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Gate is one pre-retrieval step: a guard and the state it advances to.
type Gate struct {
	Name  string
	State domain.State
	Guard Guard
}

// Gates builds the standard gate chain:
// moderation, language, intent, exact match.
func Gates(moderation Guard, lang LanguageDetector, intent, exact Guard) []Gate {
	return []Gate{
		{Name: "moderation", State: domain.StateModerated, Guard: moderation},
		{Name: "language", State: domain.StateLanguageDetected, Guard: LanguageGate{Detector: lang}},
		{Name: "intent", State: domain.StateIntentChecked, Guard: intent},
		{Name: "exact_match", State: domain.StateGuardChecked, Guard: exact},
	}
}

// LanguageGate stores the detected language on the query and always continues.
type LanguageGate struct {
	Detector LanguageDetector
}

// Evaluate implements Guard.
func (g LanguageGate) Evaluate(ctx context.Context, qc *domain.QueryContext) domain.Verdict {
	qc.Language = g.Detector.Detect(ctx, qc.RawQuery)
	return domain.Continue()
}
