package session

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

const (
	daysPerWeek          = 7
	sundayHolidayShift   = 1
	thirdMondayOffset    = 2
	fourthThursdayOffset = 3
)

// Calendar answers which trading day a moment belongs to and whether the
// exchange session is open.
type Calendar struct {
	loc       *time.Location
	openMin   int
	closeMin  int
	holidays  map[string]struct{}
	usHoliday bool
}

func NewCalendar(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load session timezone %q: %w", cfg.Timezone, err)
	}
	openMin, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	closeMin, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("session close: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("session close %s must be after open %s", cfg.Close, cfg.Open)
	}

	c := &Calendar{
		loc:       loc,
		openMin:   openMin,
		closeMin:  closeMin,
		holidays:  map[string]struct{}{},
		usHoliday: cfg.USHolidays,
	}
	for _, h := range cfg.Holidays {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, h); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[h] = struct{}{}
	}
	return c, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// TradingDate is the calendar date of t in the exchange timezone.
func (c *Calendar) TradingDate(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(local)
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	local := t.In(c.loc)
	if _, ok := c.holidays[local.Format(DateLayout)]; ok {
		return true
	}
	return c.usHoliday && isUSHoliday(local)
}

// IsOpen is true within [open, close) on a trading day.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc)
	m := local.Hour()*60 + local.Minute()
	return m >= c.openMin && m < c.closeMin
}

// SessionClose returns the close instant of the trading day containing t.
func (c *Calendar) SessionClose(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.closeMin/60, c.closeMin%60, 0, 0, c.loc)
}

func isUSHoliday(t time.Time) bool {
	year := t.Year()

	newYearsDay := shiftSunday(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
	mlkDay := nthWeekday(year, time.January, time.Monday, thirdMondayOffset)
	presidentsDay := nthWeekday(year, time.February, time.Monday, thirdMondayOffset)

	memorialDay := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorialDay.Weekday() != time.Monday {
		memorialDay = memorialDay.AddDate(0, 0, -1)
	}

	independenceDay := shiftSunday(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC))
	laborDay := nthWeekday(year, time.September, time.Monday, 0)
	thanksgivingDay := nthWeekday(year, time.November, time.Thursday, fourthThursdayOffset)
	christmasDay := shiftSunday(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC))

	day := t.Format(DateLayout)
	for _, h := range []time.Time{
		newYearsDay, mlkDay, presidentsDay, memorialDay,
		independenceDay, laborDay, thanksgivingDay, christmasDay,
	} {
		if h.Format(DateLayout) == day {
			return true
		}
	}
	return false
}

func shiftSunday(d time.Time) time.Time {
	if d.Weekday() == time.Sunday {
		return d.AddDate(0, 0, sundayHolidayShift)
	}
	return d
}

// nthWeekday returns the (offset+1)-th given weekday of the month.
func nthWeekday(year int, month time.Month, wd time.Weekday, offset int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	shift := int(wd-first.Weekday()+daysPerWeek) % daysPerWeek
	return first.AddDate(0, 0, shift+offset*daysPerWeek)
}
