package aggregate

import (
	"fmt"
	"time"
)

// Window is one named sub-window with concrete calendar boundaries.
// To is inclusive.
type Window struct {
	Name string
	From time.Time
	To   time.Time
}

// MonthWindow returns the calendar month monthsBack before ref.
func MonthWindow(name string, ref time.Time, monthsBack int) Window {
	start := monthStart(ref).AddDate(0, -monthsBack, 0)
	end := start.AddDate(0, 1, -1)
	return Window{Name: name, From: start, To: end}
}

// YearWindow returns the 12 calendar months ending yearsBack-1 years
// before ref's month, so yearsBack=1 is the trailing year including ref.
func YearWindow(name string, ref time.Time, yearsBack int) Window {
	end := monthStart(ref).AddDate(-(yearsBack - 1), 1, -1)
	start := monthStart(end).AddDate(0, -11, 0)
	return Window{Name: name, From: start, To: end}
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

const monthLayout = "2006-01"

// ParseMonth parses a YYYY-MM scope token.
func ParseMonth(tok string) (time.Time, error) {
	t, err := time.Parse(monthLayout, tok)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month %q: %w", tok, err)
	}
	return t, nil
}
