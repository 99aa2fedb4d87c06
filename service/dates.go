package service

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// rocEraOffset converts a Gregorian year to the Minguo (ROC) calendar year
const rocEraOffset = 1911

var rocDatePattern = regexp.MustCompile(`^(\d{1,4})\.(\d{1,2})\.(\d{1,2})$`)

// ErrInvalidDate matches every *InvalidDateError
var ErrInvalidDate = errors.New("invalid date")

// InvalidDateError reports a month/day that does not exist in the reference year
type InvalidDateError struct {
	Month int
	Day   int
	Year  int
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date: %d/%d does not exist in %d", e.Month, e.Day, e.Year)
}

func (e *InvalidDateError) Is(target error) bool {
	return target == ErrInvalidDate
}

// ResolveDate builds the calendar date month/day in referenceYear.
// The year is never rolled over.
func ResolveDate(month, day, referenceYear int) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, &InvalidDateError{Month: month, Day: day, Year: referenceYear}
	}
	t := time.Date(referenceYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, &InvalidDateError{Month: month, Day: day, Year: referenceYear}
	}
	return t, nil
}

// FormatROC renders t as "{ROC year}.{MM}.{DD}"
func FormatROC(t time.Time) string {
	return fmt.Sprintf("%d.%02d.%02d", t.Year()-rocEraOffset, int(t.Month()), t.Day())
}

// DateOf strips the clock from t, keeping its calendar date in t's location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays adds n calendar days to the date of t
func AddDays(t time.Time, n int) time.Time {
	return DateOf(t).AddDate(0, 0, n)
}

// ParseDate accepts ISO (2006-01-02), slash (2006/01/02) and ROC (113.03.15) dates
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02", "2006/1/2", "2006-1-2"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if m := rocDatePattern.FindStringSubmatch(s); m != nil {
		rocYear, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if rocYear == 0 {
			return time.Time{}, fmt.Errorf("unrecognized date %q", s)
		}
		if rocYear >= 1000 {
			return ResolveDate(month, day, rocYear)
		}
		return ResolveDate(month, day, rocYear+rocEraOffset)
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func formatISO(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
