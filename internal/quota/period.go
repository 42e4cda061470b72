// ABOUTME: Calendar-month quota periods in UTC
// ABOUTME: Formats as "YYYY-MM", the key used by every usage backend

package quota

import (
	"fmt"
	"time"
)

// Period is one calendar month in UTC.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// NewPeriod validates year and month.
func NewPeriod(year int, month time.Month) (Period, error) {
	if year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("year %d out of range", year)
	}
	if month < time.January || month > time.December {
		return Period{}, fmt.Errorf("month %d out of range", month)
	}
	return Period{Year: year, Month: month}, nil
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start returns midnight UTC on the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Prev returns the preceding period.
func (p Period) Prev() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// Next returns the following period.
func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}
