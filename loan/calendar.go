package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATES
// =============================================================================

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// AddMonths adds n calendar months to t, clamping to the last day of the
// target month. Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func AddMonths(t time.Time, n int) time.Time {
	t = Date(t)
	first := StartOfMonth(t.Year(), t.Month()).AddDate(0, n, 0)
	last := EndOfMonth(first.Year(), first.Month())
	day := t.Day()
	if day > last.Day() {
		day = last.Day()
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PAYROLL CYCLE
// =============================================================================

// Cycle is the calendar month a payroll run covers.
type Cycle struct {
	Year  int
	Month time.Month
}

// CycleOf returns the payroll cycle containing date.
func CycleOf(date time.Time) Cycle {
	d := Date(date)
	return Cycle{Year: d.Year(), Month: d.Month()}
}

// ParseCycle parses a "2006-01" cycle reference.
func ParseCycle(ref string) (Cycle, error) {
	t, err := time.Parse("2006-01", ref)
	if err != nil {
		return Cycle{}, NewValidationError("cycle", "must be formatted YYYY-MM")
	}
	return CycleOf(t), nil
}

// Ref is the cycle reference recorded on paid installments, e.g. "2025-03".
func (c Cycle) Ref() string {
	return StartOfMonth(c.Year, c.Month).Format("2006-01")
}

func (c Cycle) Start() time.Time { return StartOfMonth(c.Year, c.Month) }
func (c Cycle) End() time.Time   { return EndOfMonth(c.Year, c.Month) }

// Contains reports whether t falls within the cycle's month.
func (c Cycle) Contains(t time.Time) bool {
	d := Date(t)
	return d.Year() == c.Year && d.Month() == c.Month
}

// =============================================================================
// SERVICE YEARS
// =============================================================================

// ServiceYears returns completed years of service between joinDate and asOf,
// truncated to one decimal place.
//
// Whole years are counted by calendar anniversary; the days since the last
// anniversary are converted with a 365.25-day year. An employee on the exact
// anniversary has an integral number of years, one day earlier is 0.1 less.
func ServiceYears(joinDate, asOf time.Time) decimal.Decimal {
	join, now := Date(joinDate), Date(asOf)
	if !now.After(join) {
		return decimal.Zero
	}

	years := now.Year() - join.Year()
	anniversary := join.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
		anniversary = join.AddDate(years, 0, 0)
	}
	remDays := int64(now.Sub(anniversary).Hours() / 24)

	// tenths of a year = remDays / 365.25 * 10 = remDays * 40 / 1461
	tenths := int64(years)*10 + remDays*40/1461
	return decimal.New(tenths, -1)
}
