package quota

import (
	"sort"
	"time"
)

// DateIndex is an ascending sequence of distinct calendar days, each of which
// has (or had) at least one dated log file somewhere beneath the store root.
// Eviction consumes it from the head, oldest day first. DateIndex is not
// thread-safe.
type DateIndex struct {
	days []time.Time
}

// Add |day| to the index, returning false if it was already present.
// The time-of-day of |day| is ignored.
func (x *DateIndex) Add(day time.Time) bool {
	day = truncateDay(day)

	var ind = sort.Search(len(x.days), func(i int) bool {
		return !x.days[i].Before(day)
	})
	if ind != len(x.days) && x.days[ind].Equal(day) {
		return false
	}
	x.days = append(x.days, time.Time{})
	copy(x.days[ind+1:], x.days[ind:])
	x.days[ind] = day
	return true
}

// Head returns the oldest day of the index.
func (x *DateIndex) Head() (time.Time, bool) {
	if len(x.days) == 0 {
		return time.Time{}, false
	}
	return x.days[0], true
}

// DropHead removes the oldest day of the index, if any.
func (x *DateIndex) DropHead() {
	if len(x.days) != 0 {
		x.days = x.days[1:]
	}
}

// Len is the number of indexed days.
func (x *DateIndex) Len() int { return len(x.days) }

// Days returns a copy of the indexed days, ascending.
func (x *DateIndex) Days() []time.Time {
	return append([]time.Time(nil), x.days...)
}

func truncateDay(t time.Time) time.Time {
	var y, m, d = t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
