package schedule

import (
	"fmt"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
)

// DefaultDailyQuota is the number of pipeline runs allowed per local day.
const DefaultDailyQuota = 3

// DayKey returns the local calendar day of t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// Quota counts pipeline runs against a per-day limit.
type Quota struct {
	Limit int    `json:"limit"`
	Day   string `json:"day"`
	Used  int    `json:"used"`
}

// Roll resets the counter when now falls on a different local day.
// It reports whether a reset happened.
func (q *Quota) Roll(now time.Time, loc *time.Location) bool {
	day := DayKey(now, loc)
	if q.Day == day {
		return false
	}
	q.Day = day
	q.Used = 0
	return true
}

// Remaining returns how many runs are still allowed today.
func (q *Quota) Remaining(now time.Time, loc *time.Location) int {
	q.Roll(now, loc)
	if left := q.Limit - q.Used; left > 0 {
		return left
	}
	return 0
}

// Reserve takes one slot for today or fails with ErrQuotaExceeded.
func (q *Quota) Reserve(now time.Time, loc *time.Location) error {
	q.Roll(now, loc)
	if q.Used >= q.Limit {
		return fmt.Errorf("%d of %d runs used on %s: %w", q.Used, q.Limit, q.Day, domain.ErrQuotaExceeded)
	}
	q.Used++
	return nil
}

// Release returns a slot taken today. It is a no-op on another day or when
// nothing is used.
func (q *Quota) Release(now time.Time, loc *time.Location) {
	if q.Day != DayKey(now, loc) || q.Used == 0 {
		return
	}
	q.Used--
}
