package sched

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	hoursPattern    = regexp.MustCompile(`(\d+)\s*h`)
	minutesPattern  = regexp.MustCompile(`(\d+)\s*m`)
	secondsPattern  = regexp.MustCompile(`(\d+)\s*s`)
	relativePattern = regexp.MustCompile(`in\s+(\d+)\s*(hour|hr|h|minute|min|m|second|sec|s)`)
	clockPattern    = regexp.MustCompile(`(\d{1,2}):?(\d{2})?\s*(am|pm)?`)
)

// parseClockTime resolves an HH:MM wall-clock string against now. A time
// already past today always lands tomorrow; events are never scheduled into
// the past.
func parseClockTime(raw string, now time.Time) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) == 0 || parts[0] == "" {
		return time.Time{}, fmt.Errorf("empty time %q", raw)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour in %q", raw)
	}
	minute := 0
	if len(parts) > 1 {
		if minute, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return time.Time{}, fmt.Errorf("invalid minute in %q", raw)
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("time %q out of range", raw)
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, nil
}

// parseDuration accepts shorthand like "1h 30m", "90s", or a bare integer
// (minutes). Durations are always relative; non-positive totals are rejected.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(n) * time.Minute, nil
	}
	var total time.Duration
	if m := hoursPattern.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * time.Hour
	}
	if m := minutesPattern.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * time.Minute
	}
	if m := secondsPattern.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * time.Second
	}
	if total <= 0 {
		return 0, fmt.Errorf("invalid duration %q, use formats like 5m, 1h 30m, 90s", raw)
	}
	return total, nil
}

// parseReminderTime accepts a relative form ("in 30 minutes") or an absolute
// clock time ("3:30pm", "15:00"), defaulting to tomorrow when the absolute
// time has already passed.
func parseReminderTime(raw string, now time.Time) (time.Time, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return time.Time{}, fmt.Errorf("empty time spec")
	}

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		amount, _ := strconv.Atoi(m[1])
		switch {
		case strings.HasPrefix(m[2], "h"):
			return now.Add(time.Duration(amount) * time.Hour), nil
		case strings.HasPrefix(m[2], "m"):
			return now.Add(time.Duration(amount) * time.Minute), nil
		default:
			return now.Add(time.Duration(amount) * time.Second), nil
		}
	}

	if m := clockPattern.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch m[3] {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			return time.Time{}, fmt.Errorf("time %q out of range", raw)
		}
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target, nil
	}

	return time.Time{}, fmt.Errorf("could not parse %q, try 'in 30 minutes' or 'at 3:30pm'", raw)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}
