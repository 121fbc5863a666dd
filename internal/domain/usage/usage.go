package usage

import (
	"fmt"
	"time"
)

// Period is the aggregation granularity.
type Period string

// Aggregation periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod parses a period name. Empty means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// Snapshot is a point-in-time view of the token budget counters.
// A zero limit means unlimited.
type Snapshot struct {
	DailyUsed    int64
	DailyLimit   int64
	MonthlyUsed  int64
	MonthlyLimit int64
	Action       string
}

// Report is token usage for one period.
type Report struct {
	Period      Period
	PeriodStart time.Time
	PeriodEnd   time.Time
	TokensUsed  int64
	TokensLimit int64
	// TokensRemaining is -1 when unlimited.
	TokensRemaining int64
	Exhausted       bool
	Action          string
}
