package domain

import "github.com/kailas-cloud/librarian/internal/domain/book"

// State is a step of the query resolution state machine.
type State string

// Pipeline states. Transitions only move forward; Declined and Done are terminal.
const (
	StateStart            State = "start"
	StateModerated        State = "moderated"
	StateLanguageDetected State = "language_detected"
	StateIntentChecked    State = "intent_checked"
	StateGuardChecked     State = "guard_checked"
	StateRetrieved        State = "retrieved"
	StateSelected         State = "selected"
	StateComposed         State = "composed"
	StateDone             State = "done"
	StateDeclined         State = "declined"
)

var stateOrder = map[State]int{
	StateStart:            0,
	StateModerated:        1,
	StateLanguageDetected: 2,
	StateIntentChecked:    3,
	StateGuardChecked:     4,
	StateRetrieved:        5,
	StateSelected:         6,
	StateComposed:         7,
	StateDone:             8,
}

// CanAdvance reports whether moving from s to next is a legal one-way transition.
func (s State) CanAdvance(next State) bool {
	if s == StateDone || s == StateDeclined {
		return false
	}
	if next == StateDeclined {
		return true
	}
	return stateOrder[next] == stateOrder[s]+1
}

// DeclineReason explains why no recommendation was made.
type DeclineReason string

// Decline reasons.
const (
	DeclineNone          DeclineReason = ""
	DeclineModeration    DeclineReason = "moderation"
	DeclineOffTopic      DeclineReason = "off_topic"
	DeclineAbsentEntity  DeclineReason = "absent_entity"
	DeclineNoCandidates  DeclineReason = "no_candidates"
	DeclineCatalogEmpty  DeclineReason = "catalog_empty"
	DeclineNoFit         DeclineReason = "no_fit"
	DeclineUpstream      DeclineReason = "upstream"
	DeclineQuotaExceeded DeclineReason = "quota_exceeded"
)

// Intent is the classified purpose of a query.
type Intent string

// Intents.
const (
	IntentBookRequest Intent = "book_request"
	IntentChitChat    Intent = "chit_chat"
	IntentOther       Intent = "other"
)

// EntityType classifies a named entity extracted from the query.
type EntityType string

// Entity types.
const (
	EntityNone   EntityType = "none"
	EntityTitle  EntityType = "title"
	EntityAuthor EntityType = "author"
	EntityPerson EntityType = "person"
)

// Entity is a specific work or person named in the query.
type Entity struct {
	Text string
	Type EntityType
}

// IsSpecific reports whether the entity names a title, author or person.
func (e Entity) IsSpecific() bool {
	switch e.Type {
	case EntityTitle, EntityAuthor, EntityPerson:
		return e.Text != ""
	default:
		return false
	}
}

// Classification is the intent classifier output.
type Classification struct {
	Intent         Intent
	Entity         Entity
	MustExactMatch bool
	Reason         string
}

// Language is a detected response language.
type Language struct {
	Code string // ISO 639-1, e.g. "ro"
	Name string // English display name, e.g. "Romanian"
}

// QueryContext is the per-request state threaded through the pipeline.
// It is never shared between requests and never persisted.
type QueryContext struct {
	RawQuery         string
	K                int
	Language         Language
	ModerationPassed bool
	IsBookIntent     bool
	Classification   Classification
	Candidates       []book.Candidate
	ChosenTitle      string
	Reason           string
	State            State
}

// Verdict is the result of a guard: continue, or decline with a reason.
type Verdict struct {
	Decline DeclineReason
	// Entity is echoed in the decline message for DeclineAbsentEntity.
	Entity string
	Err    error
}

// Continue is the verdict that lets the pipeline proceed.
func Continue() Verdict { return Verdict{} }

// Declined returns a decline verdict.
func Declined(reason DeclineReason) Verdict { return Verdict{Decline: reason} }

// Failed returns a decline verdict caused by an upstream error.
func Failed(err error) Verdict { return Verdict{Decline: DeclineUpstream, Err: err} }

// Passed reports whether the pipeline may proceed.
func (v Verdict) Passed() bool { return v.Decline == DeclineNone }

// Choice is a selector decision: a candidate title and why it fits.
type Choice struct {
	Title  string
	Reason string
}
