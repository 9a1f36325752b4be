package domain

import activity "dwell/internal/modules/activity/domain"

// Day is one user's local day as the ledger reports it. Sessions are those
// that started inside the day's bounds at Timezone.
type Day struct {
	UserID     string
	LocalDate  string
	Timezone   activity.Timezone
	Sessions   []Session
	Aggregates []activity.Aggregate
}

func (d Day) TotalTime() int64 {
	var total int64
	for _, agg := range d.Aggregates {
		total += agg.TotalTime
	}
	return total
}
