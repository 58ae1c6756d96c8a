package scheduler

import (
	"slices"
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		at       []TimeOfDay
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "30 0 6 * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 1m", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every hhmm", raw: "every:01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "time of day", raw: "06:00", kind: SpecDaily, source: "at", at: []TimeOfDay{{6, 0}}},
		{name: "times of day", raw: "18:00, 06:00,12:30", kind: SpecDaily, source: "at", at: []TimeOfDay{{6, 0}, {12, 30}, {18, 0}}},
		{name: "prefixed at dedup", raw: "AT:7:05,07:05", kind: SpecDaily, source: "at", at: []TimeOfDay{{7, 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.kind == SpecDaily && !slices.Equal(got.At, tt.at) {
				t.Fatalf("At = %v, want %v", got.At, tt.at)
			}
			// String() must round-trip.
			again, err := ParseSchedule(got.String())
			if err != nil || again.Kind != got.Kind {
				t.Fatalf("round trip %q: kind %v err %v", got.String(), again.Kind, err)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"not-a-schedule",
		"0s",
		"-5m",
		"24:00",
		"06:60",
		"at:",
		"every:",
		"cron:",
		"cron:61 * * * *",
		"* * *",
	} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if _, _, err := parseHHMM("6:5"); err == nil {
		t.Fatal("expected error for single-digit minute")
	}
}

func TestDailyScheduleNext(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	d := dailySchedule{at: []TimeOfDay{{6, 0}, {12, 0}, {18, 0}}}

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 1, 5, 59, 59, 0, loc), time.Date(2026, 3, 1, 6, 0, 0, 0, loc)},
		{time.Date(2026, 3, 1, 6, 0, 0, 0, loc), time.Date(2026, 3, 1, 12, 0, 0, 0, loc)},
		{time.Date(2026, 3, 1, 13, 0, 0, 0, loc), time.Date(2026, 3, 1, 18, 0, 0, 0, loc)},
		{time.Date(2026, 3, 1, 18, 0, 1, 0, loc), time.Date(2026, 3, 2, 6, 0, 0, 0, loc)},
		{time.Date(2026, 12, 31, 23, 0, 0, 0, loc), time.Date(2027, 1, 1, 6, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := d.Next(tt.now); !got.Equal(tt.want) {
			t.Fatalf("Next(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}
