package schedule

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func collect(t *testing.T, s *Schedule, start, end time.Time) []time.Time {
	series, err := s.Expand(start, end)
	if err != nil {
		t.Fatal(err)
	}
	var result []time.Time
	for {
		tm, ok := series.Next()
		if !ok {
			break
		}
		result = append(result, tm)
	}
	return result
}

func TestFromMapDefaults(t *testing.T) {
	s := FromMap(map[string]string{"hour": "8"})
	if s == nil {
		t.Fatal("expected schedule")
	}
	if s.CronSpec() != "0 8 * * *" {
		t.Fatalf("unexpected spec: %s", s.CronSpec())
	}

	if FromMap(map[string]string{}) != nil {
		t.Fatal("empty map must yield no schedule")
	}
	if FromMap(nil) != nil {
		t.Fatal("nil map must yield no schedule")
	}
	if FromMap(map[string]string{"name": "Aspirin"}) != nil {
		t.Fatal("unrelated keys must yield no schedule")
	}
}

func TestToMapComplete(t *testing.T) {
	s := FromMap(map[string]string{"minute": "30"})
	m := s.ToMap()
	if len(m) != 5 {
		t.Fatalf("expected all five fields, got %v", m)
	}
	if m["minute"] != "30" || m["hour"] != "0" || m["day_of_month"] != "*" {
		t.Fatalf("unexpected map: %v", m)
	}
}

func TestExpandDaily(t *testing.T) {
	s := &Schedule{Minute: "0", Hour: "8", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	start := mustTime(t, "2024-01-01T00:00:00Z")
	end := mustTime(t, "2024-01-04T00:00:00Z")

	times := collect(t, s, start, end)
	if len(times) != 3 {
		t.Fatalf("expected 3 activations, got %d", len(times))
	}
	if !times[0].Equal(mustTime(t, "2024-01-01T08:00:00Z")) ||
		!times[2].Equal(mustTime(t, "2024-01-03T08:00:00Z")) {
		t.Fatalf("unexpected activations: %v", times)
	}
}

func TestExpandHalfOpen(t *testing.T) {
	s := &Schedule{Minute: "0", Hour: "8", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	eight := mustTime(t, "2024-01-01T08:00:00Z")

	// an activation exactly at start is included
	times := collect(t, s, eight, eight.Add(time.Hour))
	if len(times) != 1 || !times[0].Equal(eight) {
		t.Fatalf("start must be inclusive, got %v", times)
	}

	// an activation exactly at end is not
	times = collect(t, s, eight.Add(-time.Hour), eight)
	if len(times) != 0 {
		t.Fatalf("end must be exclusive, got %v", times)
	}

	// empty range
	times = collect(t, s, eight, eight)
	if len(times) != 0 {
		t.Fatalf("empty range must yield nothing, got %v", times)
	}
}

func TestExpandEveryMinute(t *testing.T) {
	s := &Schedule{Minute: "*", Hour: "*", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	start := mustTime(t, "2024-01-01T00:00:00Z")

	series, err := s.Expand(start, start.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	var last time.Time
	for {
		tm, ok := series.Next()
		if !ok {
			break
		}
		if count > 0 && !tm.After(last) {
			t.Fatal("series must be strictly increasing")
		}
		last = tm
		count++
	}
	if count != 60 {
		t.Fatalf("expected 60 activations, got %d", count)
	}
}

func TestExpandSubMinuteStart(t *testing.T) {
	// a start between activations resumes at the next one
	s := &Schedule{Minute: "0", Hour: "20", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	start := mustTime(t, "2024-01-01T20:00:00Z").Add(time.Microsecond)
	end := mustTime(t, "2024-01-03T00:00:00Z")

	times := collect(t, s, start, end)
	if len(times) != 1 || !times[0].Equal(mustTime(t, "2024-01-02T20:00:00Z")) {
		t.Fatalf("unexpected activations: %v", times)
	}
}

func TestPeek(t *testing.T) {
	s := &Schedule{Minute: "0", Hour: "8", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	start := mustTime(t, "2024-01-01T00:00:00Z")
	series, err := s.Expand(start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	peeked, ok := series.Peek()
	if !ok {
		t.Fatal("expected an activation")
	}
	next, _ := series.Next()
	if !peeked.Equal(next) {
		t.Fatal("peek must not advance the series")
	}
}

func TestValidate(t *testing.T) {
	good := &Schedule{Minute: "*/15", Hour: "8-18", DayOfMonth: "*", Month: "*", DayOfWeek: "MON-FRI"}
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := &Schedule{Minute: "61", Hour: "*", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
