package domain

import (
	"sort"
	"strconv"

	activity "dwell/internal/modules/activity/domain"
)

// GroupKey selects the intervals that travel in one aggregate upsert.
type GroupKey struct {
	Domain        string
	LocalDate     string
	OffsetMinutes int
	TimezoneName  string
}

func (k GroupKey) String() string {
	return k.Domain + "|" + k.LocalDate + "|" + strconv.Itoa(k.OffsetMinutes) + "|" + k.TimezoneName
}

type Group struct {
	Key       GroupKey
	Intervals []activity.Interval
}

func (g Group) IDs() []string {
	ids := make([]string, len(g.Intervals))
	for i, in := range g.Intervals {
		ids[i] = in.ID
	}
	return ids
}

func (g Group) Keys() []activity.Key {
	keys := make([]activity.Key, len(g.Intervals))
	for i, in := range g.Intervals {
		keys[i] = in.Key()
	}
	return keys
}

// GroupIntervals buckets intervals by GroupKey. Groups are ordered by their
// earliest interval and intervals keep their input order.
func GroupIntervals(intervals []activity.Interval) ([]Group, error) {
	index := map[GroupKey]int{}
	var groups []Group
	for _, in := range intervals {
		date, err := in.LocalDate()
		if err != nil {
			return nil, err
		}
		key := GroupKey{Domain: in.Domain, LocalDate: date, OffsetMinutes: in.OffsetMinutes, TimezoneName: in.TimezoneName}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Intervals = append(groups[i].Intervals, in)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Intervals[0].StartMs < groups[b].Intervals[0].StartMs
	})
	return groups, nil
}
