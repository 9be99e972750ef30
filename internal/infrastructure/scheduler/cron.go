package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// Common schedules.
const (
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	FirstOfMonth     = "0 0 1 * *"
)

// CronSchedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
//   - "0 */6 * * *" - every 6 hours
//   - "30 0 * * *"  - every day at 00:30
//   - "0 0 1 * *"   - first day of every month
//
// Each field is stored as a bit set.
type CronSchedule struct {
	raw      string
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
}

// ParseCron parses a cron expression. Supports *, */n, n, n-m, n-m/s and
// comma separated lists of those.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day", "month", "weekday"}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", names[i], err)
		}
		sets[i] = set
	}

	return &CronSchedule{
		raw:      strings.Join(fields, " "),
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

// MustParseCron parses a cron expression or panics.
func MustParseCron(expr string) *CronSchedule {
	cs, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return cs
}

func parseCronField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		rangePart := part
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step in %q", part)
			}
			step = s
			rangePart = part[:i]
		}

		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start in %q", part)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end in %q", part)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", part)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%q out of range [%d-%d]", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	if set == 0 {
		return 0, fmt.Errorf("empty field %q", field)
	}
	return set, nil
}

// String returns the normalized expression.
func (c *CronSchedule) String() string {
	return c.raw
}

// Next returns the first matching minute strictly after t, or the zero time
// if nothing matches within four years.
func (c *CronSchedule) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := next.AddDate(4, 0, 0)

	for next.Before(limit) {
		switch {
		case c.months&(1<<uint(next.Month())) == 0:
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, next.Location())
		case !c.dayMatches(next):
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, next.Location())
		case c.hours&(1<<uint(next.Hour())) == 0:
			next = next.Truncate(time.Hour).Add(time.Hour)
		case c.minutes&(1<<uint(next.Minute())) == 0:
			next = next.Add(time.Minute)
		default:
			return next
		}
	}
	return time.Time{}
}

// dayMatches follows the usual cron rule: when both day fields are
// restricted, either may match.
func (c *CronSchedule) dayMatches(t time.Time) bool {
	dom := c.days&(1<<uint(t.Day())) != 0
	dow := c.weekdays&(1<<uint(t.Weekday())) != 0

	domAll := bits.OnesCount64(c.days) == 31
	dowAll := bits.OnesCount64(c.weekdays) == 7
	if !domAll && !dowAll {
		return dom || dow
	}
	return dom && dow
}

// ParseSchedule accepts either a cron expression or "@every <duration>".
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		return NewIntervalSchedule(d)
	case expr == "@hourly":
		return ParseCron(EveryHour)
	case expr == "@daily":
		return ParseCron(EveryDayMidnight)
	case expr == "@monthly":
		return ParseCron(FirstOfMonth)
	}
	return ParseCron(expr)
}
