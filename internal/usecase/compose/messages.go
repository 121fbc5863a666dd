package compose

import (
	"fmt"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// English decline templates. absent_entity takes the entity text.
var declines = map[domain.DeclineReason]string{
	domain.DeclineModeration: "Please use respectful language. I can only help with book-related queries.",
	domain.DeclineOffTopic: "I only handle book recommendations based on themes, vibes or titles. " +
		"Try: 'a book about friendship and magic' or 'something dystopian but hopeful'.",
	domain.DeclineAbsentEntity: "I can only recommend from the stored collection and I couldn't find an exact match for '%s'. " +
		"Try asking by theme or vibe instead (e.g., 'a memoir about resilience').",
	domain.DeclineNoCandidates: "I couldn't find relevant matches in the collection.",
	domain.DeclineCatalogEmpty: "I couldn't find relevant matches in the collection.",
	domain.DeclineNoFit:        "I couldn't find a suitable match in the collection. Try a different theme or vibe.",
}

// apologies are used for upstream failures and when a rewrite fails.
var apologies = map[string]string{
	"en": "Sorry, I can't answer right now. Please try again in a moment.",
	"ro": "Îmi pare rău, nu pot răspunde acum. Te rog să încerci din nou peste câteva momente.",
	"es": "Lo siento, no puedo responder ahora mismo. Inténtalo de nuevo en un momento.",
	"fr": "Désolé, je ne peux pas répondre pour le moment. Veuillez réessayer dans un instant.",
	"de": "Entschuldigung, ich kann gerade nicht antworten. Bitte versuche es gleich noch einmal.",
	"it": "Mi dispiace, non posso rispondere in questo momento. Riprova tra poco.",
	"pt": "Desculpe, não posso responder agora. Tente novamente em instantes.",
}

// Apology returns the static apology for a language code, English if unknown.
func Apology(code string) string {
	if s, ok := apologies[code]; ok {
		return s
	}
	return apologies["en"]
}

// englishDecline renders the template for reason. ok is false for reasons
// without a template (upstream, quota).
func englishDecline(reason domain.DeclineReason, entity string) (string, bool) {
	tpl, ok := declines[reason]
	if !ok {
		return "", false
	}
	if reason == domain.DeclineAbsentEntity {
		return fmt.Sprintf(tpl, entity), true
	}
	return tpl, true
}
