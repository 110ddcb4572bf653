package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day, minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Schedule holds the intraday windows of a trading session in the venue's
// timezone: trading starts at Start, new entries stop at StopEntries and open
// positions are flattened from Flatten onwards.
type Schedule struct {
	Location    *time.Location
	Start       ClockTime
	StopEntries ClockTime
	Flatten     ClockTime
}

// NewSchedule builds a Schedule from a timezone name and three HH:MM strings.
func NewSchedule(tz, start, stopEntries, flatten string) (*Schedule, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	s := &Schedule{Location: loc}
	if s.Start, err = ParseClock(start); err != nil {
		return nil, fmt.Errorf("start_trade: %w", err)
	}
	if s.StopEntries, err = ParseClock(stopEntries); err != nil {
		return nil, fmt.Errorf("stop_new_entries: %w", err)
	}
	if s.Flatten, err = ParseClock(flatten); err != nil {
		return nil, fmt.Errorf("flatten_time: %w", err)
	}
	if s.Start.minutes() >= s.StopEntries.minutes() {
		return nil, fmt.Errorf("start_trade %s must be before stop_new_entries %s", s.Start, s.StopEntries)
	}
	if s.StopEntries.minutes() > s.Flatten.minutes() {
		return nil, fmt.Errorf("stop_new_entries %s must not be after flatten_time %s", s.StopEntries, s.Flatten)
	}
	return s, nil
}

func (s *Schedule) minuteOfDay(t time.Time) int {
	lt := t.In(s.Location)
	return lt.Hour()*60 + lt.Minute()
}

// IsTradingTime reports whether t falls in [Start, Flatten).
func (s *Schedule) IsTradingTime(t time.Time) bool {
	m := s.minuteOfDay(t)
	return m >= s.Start.minutes() && m < s.Flatten.minutes()
}

// NewEntriesAllowed reports whether t falls in [Start, StopEntries).
func (s *Schedule) NewEntriesAllowed(t time.Time) bool {
	m := s.minuteOfDay(t)
	return m >= s.Start.minutes() && m < s.StopEntries.minutes()
}

// FlattenDue reports whether t is at or after the flatten time.
func (s *Schedule) FlattenDue(t time.Time) bool {
	return s.minuteOfDay(t) >= s.Flatten.minutes()
}

// DayKey returns the session date of t in the schedule's timezone.
func (s *Schedule) DayKey(t time.Time) string {
	return t.In(s.Location).Format("2006-01-02")
}

// DayStart returns midnight of t's session date in the schedule's timezone.
func (s *Schedule) DayStart(t time.Time) time.Time {
	lt := t.In(s.Location)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.Location)
}
