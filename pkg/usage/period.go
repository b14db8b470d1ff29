package usage

import "time"

// Civil truncates t to midnight UTC of its UTC calendar date.
func Civil(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// periodEnd returns the inclusive last day of the k-th period after anchor.
// Periods end the day before the anchor's day of month, clamped to short
// months, so the anchor day is kept even after a clamped month.
func periodEnd(anchor time.Time, k int) time.Time {
	y, m, d := anchor.Date()
	if d == 1 {
		return time.Date(y, m+time.Month(k)+1, 0, 0, 0, 0, 0, time.UTC)
	}
	first := time.Date(y, m+time.Month(k)+1, 1, 0, 0, 0, 0, time.UTC)
	day := min(d-1, daysIn(first.Year(), first.Month()))
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// PeriodFor returns the billing period containing today for a plan
// activated at anchor. Both bounds are inclusive civil dates. Dates before
// the anchor map to the first period.
func PeriodFor(anchor, today time.Time) (start, end time.Time) {
	anchor = Civil(anchor)
	today = Civil(today)
	start = anchor
	for k := 0; ; k++ {
		end = periodEnd(anchor, k)
		if !today.After(end) {
			return start, end
		}
		start = end.AddDate(0, 0, 1)
	}
}
