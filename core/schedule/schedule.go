// Package schedule implements cron-style dosing schedules for medications.
//
// A schedule is stored as five standard cron fields. Expansion over a time
// range is lazy, so callers can page through arbitrarily dense schedules
// without materializing the full series.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a five-field cron expression, one field per struct member.
type Schedule struct {
	Minute     string `json:"minute"`
	Hour       string `json:"hour"`
	DayOfMonth string `json:"day_of_month"`
	Month      string `json:"month"`
	DayOfWeek  string `json:"day_of_week"`
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// FromMap builds a schedule from a partial field map. Missing fields get
// defaults: "0" for minute and hour, "*" for the remaining fields, i.e. an
// absent schedule block means daily at midnight once any field is given.
// It returns nil when none of the five keys are present.
func FromMap(m map[string]string) *Schedule {
	if m == nil {
		return nil
	}
	present := false
	get := func(key, def string) string {
		value, ok := m[key]
		if !ok || value == "" {
			return def
		}
		present = true
		return value
	}
	s := Schedule{
		Minute:     get("minute", "0"),
		Hour:       get("hour", "0"),
		DayOfMonth: get("day_of_month", "*"),
		Month:      get("month", "*"),
		DayOfWeek:  get("day_of_week", "*"),
	}
	if !present {
		return nil
	}
	return &s
}

// ToMap returns all five fields. The representation is always complete,
// regardless of which fields the schedule was created from.
func (s *Schedule) ToMap() map[string]string {
	return map[string]string{
		"minute":       s.Minute,
		"hour":         s.Hour,
		"day_of_month": s.DayOfMonth,
		"month":        s.Month,
		"day_of_week":  s.DayOfWeek,
	}
}

// CronSpec returns the schedule as a single cron expression.
func (s *Schedule) CronSpec() string {
	return strings.Join([]string{s.Minute, s.Hour, s.DayOfMonth, s.Month, s.DayOfWeek}, " ")
}

// Validate parses the cron expression and reports any syntax error.
func (s *Schedule) Validate() error {
	_, err := parser.Parse(s.CronSpec())
	return err
}

// Series lazily enumerates the activation times of a schedule within the
// half-open interval [start, end).
type Series struct {
	spec cron.Schedule
	next time.Time
	end  time.Time
}

// Expand creates a series over [start, end). A start at or after end yields
// an empty series. An activation exactly at start is included, one exactly
// at end is not.
func (s *Schedule) Expand(start, end time.Time) (*Series, error) {
	spec, err := parser.Parse(s.CronSpec())
	if err != nil {
		return nil, err
	}
	series := &Series{spec: spec, end: end}
	// cron's Next is strictly-after, nudge back to make start inclusive
	series.next = spec.Next(start.Add(-time.Nanosecond))
	return series, nil
}

// Next returns the next activation time, or false when the series is
// exhausted. Two consecutive calls never return the same time.
func (s *Series) Next() (time.Time, bool) {
	t := s.next
	if t.IsZero() || !t.Before(s.end) {
		return time.Time{}, false
	}
	s.next = s.spec.Next(t)
	return t, true
}

// Peek returns what the next call to Next would return, without advancing.
func (s *Series) Peek() (time.Time, bool) {
	if s.next.IsZero() || !s.next.Before(s.end) {
		return time.Time{}, false
	}
	return s.next, true
}
