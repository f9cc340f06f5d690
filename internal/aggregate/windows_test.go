package aggregate

import (
	"testing"
	"time"
)

var ref = time.Date(2025, time.November, 14, 10, 0, 0, 0, time.UTC)

func TestMonthWindow_CurrentMonthBoundaries(t *testing.T) {
	w := MonthWindow("current", ref, 0)
	if got := w.From.Format("2006-01-02"); got != "2025-11-01" {
		t.Fatalf("from=%s", got)
	}
	if got := w.To.Format("2006-01-02"); got != "2025-11-30" {
		t.Fatalf("to=%s", got)
	}
}

func TestMonthWindow_PriorMonthAndYearWrap(t *testing.T) {
	jan := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	w := MonthWindow("prior", jan, 1)
	if got := w.From.Format("2006-01-02"); got != "2024-12-01" {
		t.Fatalf("from=%s", got)
	}
	if got := w.To.Format("2006-01-02"); got != "2024-12-31" {
		t.Fatalf("to=%s", got)
	}
}

func TestMonthWindow_TwelveBackIsSameMonthLastYear(t *testing.T) {
	w := MonthWindow("year_ago", ref, 12)
	if got := w.From.Format("2006-01-02"); got != "2024-11-01" {
		t.Fatalf("from=%s", got)
	}
	if got := w.To.Format("2006-01-02"); got != "2024-11-30" {
		t.Fatalf("to=%s", got)
	}
}

func TestYearWindow_TrailingYears(t *testing.T) {
	w1 := YearWindow("y1", ref, 1)
	if w1.From.Format("2006-01-02") != "2024-12-01" || w1.To.Format("2006-01-02") != "2025-11-30" {
		t.Fatalf("y1 window: %s..%s", w1.From.Format("2006-01-02"), w1.To.Format("2006-01-02"))
	}

	w2 := YearWindow("y2", ref, 2)
	if w2.From.Format("2006-01-02") != "2023-12-01" || w2.To.Format("2006-01-02") != "2024-11-30" {
		t.Fatalf("y2 window: %s..%s", w2.From.Format("2006-01-02"), w2.To.Format("2006-01-02"))
	}

	// consecutive windows tile with no gap or overlap
	if !w2.To.AddDate(0, 0, 1).Equal(w1.From) {
		t.Fatalf("windows must tile: y2 ends %s, y1 starts %s", w2.To, w1.From)
	}
}

func TestParseMonth(t *testing.T) {
	got, err := ParseMonth("2025-06")
	if err != nil {
		t.Fatalf("ParseMonth: %v", err)
	}
	if got.Year() != 2025 || got.Month() != time.June {
		t.Fatalf("parsed %v", got)
	}
	if _, err := ParseMonth("June 2025"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
