package domain

// Span is the part of an interval kept in an aggregate's history.
type Span struct {
	StartMs  int64 `json:"startTime"`
	EndMs    int64 `json:"endTime"`
	Duration int64 `json:"duration"`
}

type Timezone struct {
	Name          string `json:"name"`
	OffsetMinutes int    `json:"offsetMinutes"`
}

// Aggregate is the running total for one (user, local day, domain).
type Aggregate struct {
	UserID    string   `json:"userId"`
	LocalDate string   `json:"localDate"`
	Domain    string   `json:"domain"`
	Category  string   `json:"category"`
	TotalTime int64    `json:"totalTime"`
	Timezone  Timezone `json:"timezone"`
	Sessions  []Span   `json:"sessions"`
	UpdatedAt int64    `json:"updatedAt"`
}

type Limits struct {
	MaxSession   int64
	MaxDaily     int64
	HistoryLimit int
}

type Outcome struct {
	Added     int64
	Saturated bool
}

func (i Interval) Span() Span {
	return Span{StartMs: i.StartMs, EndMs: i.EndMs, Duration: i.Duration}
}

// Apply folds span into the aggregate. The total saturates at MaxDaily and
// history keeps the newest HistoryLimit spans. Apply does not deduplicate.
func (a Aggregate) Apply(span Span, limits Limits) (Aggregate, Outcome) {
	next := a
	total := a.TotalTime + span.Duration
	outcome := Outcome{}
	if limits.MaxDaily > 0 && total >= limits.MaxDaily {
		total = limits.MaxDaily
		outcome.Saturated = true
	}
	if total < a.TotalTime {
		total = a.TotalTime
	}
	outcome.Added = total - a.TotalTime
	next.TotalTime = total

	history := make([]Span, 0, len(a.Sessions)+1)
	history = append(history, a.Sessions...)
	history = append(history, span)
	if limits.HistoryLimit > 0 && len(history) > limits.HistoryLimit {
		history = history[len(history)-limits.HistoryLimit:]
	}
	next.Sessions = history
	return next, outcome
}

// Raise lifts the total to remote when remote is ahead. Totals never move
// backward.
func (a Aggregate) Raise(remote int64, maxDaily int64) (Aggregate, bool) {
	if maxDaily > 0 && remote > maxDaily {
		remote = maxDaily
	}
	if remote <= a.TotalTime {
		return a, false
	}
	a.TotalTime = remote
	return a, true
}
