// Package period provides the calendar month keys that partition the inventory ledger.
package period

import (
	"fmt"
	"strconv"
	"time"
)

// Mode selects how Previous wraps across a year boundary.
type Mode string

const (
	// ModeCalendar rolls January back to December of the previous year.
	ModeCalendar Mode = "calendar"
	// ModeLegacy rolls January back to December of the same year.
	// Matches ledgers migrated from the old back office, which never decremented the year.
	ModeLegacy Mode = "legacy"
)

// ParseMode accepts "calendar" and "legacy"; empty means calendar.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCalendar:
		return ModeCalendar, nil
	case ModeLegacy:
		return ModeLegacy, nil
	default:
		return "", fmt.Errorf("unknown month mode %q", s)
	}
}

// Month identifies one ledger month.
type Month struct {
	Year  int
	Month time.Month
}

// Of returns the month containing t (in t's location).
func Of(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseKey parses a fixed-width MMYYYY token.
func ParseKey(key string) (Month, error) {
	if len(key) != 6 {
		return Month{}, fmt.Errorf("month key %q: want MMYYYY", key)
	}
	mm, err := strconv.Atoi(key[:2])
	if err != nil || mm < 1 || mm > 12 {
		return Month{}, fmt.Errorf("month key %q: bad month", key)
	}
	yyyy, err := strconv.Atoi(key[2:])
	if err != nil || yyyy < 1 {
		return Month{}, fmt.Errorf("month key %q: bad year", key)
	}
	return Month{Year: yyyy, Month: time.Month(mm)}, nil
}

// Key renders the month as MMYYYY, month always zero-padded.
func (m Month) Key() string {
	return fmt.Sprintf("%02d%04d", int(m.Month), m.Year)
}

func (m Month) String() string { return m.Key() }

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Previous returns the month before m according to mode.
func (m Month) Previous(mode Mode) Month {
	if m.Month == time.January {
		if mode == ModeLegacy {
			return Month{Year: m.Year, Month: time.December}
		}
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Next returns the calendar month after m.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// IsZero reports whether m is the zero month.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Clock supplies the current time. Tests replace it to pin the ledger month.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }
