// Package timeutil holds the calendar arithmetic the sync pipeline agrees on.
// Everything is UTC: providers report usage in UTC buckets and the monthly
// rows key on a UTC month start.
package timeutil

import "time"

// MonthStartUTC normalizes the timestamp to the first day of its UTC month.
// This is the idempotency key for monthly usage rows.
func MonthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// SameUTCDay reports whether both timestamps fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
