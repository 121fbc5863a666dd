package domain

import "github.com/kailas-cloud/librarian/internal/domain/book"

// ContextItem is a candidate shown to the selector, as reported to the client.
type ContextItem struct {
	Title  string
	Themes []string
}

// Response is the outcome of resolving a query.
// ChosenTitle is non-nil iff Answer is a recommendation, and then equals the
// title of one of ContextUsed.
type Response struct {
	Query         string
	ChosenTitle   *string
	Answer        string
	ContextUsed   []ContextItem
	Language      Language
	State         State
	DeclineReason DeclineReason
}

// ContextFromCandidates converts candidates into reported context items.
func ContextFromCandidates(cands []book.Candidate) []ContextItem {
	items := make([]ContextItem, 0, len(cands))
	for _, c := range cands {
		items = append(items, ContextItem{Title: c.Book.Title(), Themes: c.Book.Themes()})
	}
	return items
}

// CheckInvariant verifies the chosen-title invariant.
func (r Response) CheckInvariant() bool {
	if r.ChosenTitle == nil {
		return true
	}
	for _, item := range r.ContextUsed {
		if item.Title == *r.ChosenTitle {
			return true
		}
	}
	return false
}
