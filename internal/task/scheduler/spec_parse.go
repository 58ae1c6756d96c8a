package scheduler

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecDaily
)

func (k SpecKind) String() string {
	switch k {
	case SpecInterval:
		return "interval"
	case SpecDaily:
		return "daily"
	default:
		return "cron"
	}
}

// TimeOfDay is a wall-clock HH:MM in the scheduler timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Times of day: "06:00", "06:00,12:00,18:00", "at:06:00,18:00"
//   - Interval duration: "1m", "2h30m", "every:55m", "interval:00:50"
//   - Cron (crontab.guru-style): "*/5 * * * *", "0 6 * * 1-5", "@hourly", "@every 55m"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing (HH:MM means a duration there)
//   - "at:" forces times of day
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	At     []TimeOfDay // sorted, unique
	Source string      // "cron" | "duration" | "hhmm" | "at"
}

// String renders the spec in a form ParseSchedule accepts.
func (p ParsedSpec) String() string {
	switch p.Kind {
	case SpecInterval:
		return "every:" + p.Every.String()
	case SpecDaily:
		parts := make([]string, len(p.At))
		for i, t := range p.At {
			parts[i] = t.String()
		}
		return "at:" + strings.Join(parts, ",")
	default:
		return p.Cron
	}
}

// cronParser accepts both 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reHHMMList = regexp.MustCompile(`^\d{1,2}:\d{2}(\s*,\s*\d{1,2}:\d{2})*$`)
)

// ParseSchedule parses a schedule string into a cron expression, an interval, or times of day.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSpec(s[len("every:"):])
	case strings.HasPrefix(low, "at:"):
		return parseTimesOfDay(s[len("at:"):])
	}

	// Heuristics:
	// - HH:MM list => times of day
	if reHHMMList.MatchString(s) {
		return parseTimesOfDay(s)
	}
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	// - Go duration => interval
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use times of day like '06:00,18:00', a duration like '55m', or cron like '*/5 * * * *')",
		raw,
	)
}

func parseCron(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func parseIntervalSpec(v string) (ParsedSpec, error) {
	d, src, err := parseInterval(v)
	if err != nil {
		return ParsedSpec{}, err
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseTimesOfDay(v string) (ParsedSpec, error) {
	var at []TimeOfDay
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, m, err := parseHHMM(part)
		if err != nil {
			return ParsedSpec{}, err
		}
		at = append(at, TimeOfDay{Hour: h, Minute: m})
	}
	if len(at) == 0 {
		return ParsedSpec{}, fmt.Errorf("at least one HH:MM required")
	}
	slices.SortFunc(at, func(a, b TimeOfDay) int {
		return (a.Hour*60 + a.Minute) - (b.Hour*60 + b.Minute)
	})
	at = slices.Compact(at)
	return ParsedSpec{Kind: SpecDaily, At: at, Source: "at"}, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// dailySchedule fires at each TimeOfDay, every day, in the location of
// the time passed to Next (cron passes times in its configured location).
type dailySchedule struct {
	at []TimeOfDay
}

func (d dailySchedule) Next(t time.Time) time.Time {
	if len(d.at) == 0 {
		return time.Time{}
	}
	for day := 0; day < 2; day++ {
		y, m, dd := t.AddDate(0, 0, day).Date()
		for _, at := range d.at {
			c := time.Date(y, m, dd, at.Hour, at.Minute, 0, 0, t.Location())
			if c.After(t) {
				return c
			}
		}
	}
	return time.Time{}
}

// schedule builds the cron trigger for a parsed spec.
func (p ParsedSpec) schedule() (cron.Schedule, error) {
	switch p.Kind {
	case SpecInterval:
		return cron.Every(p.Every), nil
	case SpecDaily:
		return dailySchedule{at: p.At}, nil
	default:
		return cronParser.Parse(p.Cron)
	}
}
