package timeutil

import (
	"testing"
	"time"
)

func TestMonthStartUTC(t *testing.T) {
	ts := time.Date(2025, time.January, 17, 22, 45, 3, 0, time.FixedZone("CST", 8*3600))
	got := MonthStartUTC(ts)
	want := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("unexpected month start %v", got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
}

func TestMonthStartUTCIdempotent(t *testing.T) {
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	if got := MonthStartUTC(start); !got.Equal(start) {
		t.Fatalf("month start should be a fixed point, got %v", got)
	}
}

func TestSameUTCDay(t *testing.T) {
	a := time.Date(2025, time.January, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !SameUTCDay(a, b) {
		t.Fatalf("expected same UTC day")
	}
	// Local time shortly after midnight still belongs to the previous UTC day.
	c := time.Date(2025, time.January, 2, 0, 30, 0, 0, time.FixedZone("CET", 3600))
	if !SameUTCDay(b, c) {
		t.Fatalf("expected same UTC day after zone conversion")
	}
	if SameUTCDay(a, a.Add(time.Minute)) {
		t.Fatalf("expected different UTC days")
	}
}
