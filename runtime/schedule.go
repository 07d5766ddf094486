package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next activation after a given time.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseSchedule parses a probe schedule.
// Supports:
//   - Cron expressions: "0 */15 * * * *" (6-field) or "*/15 * * * *" (5-field)
//   - Descriptors: "@hourly", "@every 10m"
//   - Go duration strings: "15m", "2h", "1h30m" (at least one second)
func ParseSchedule(schedule string) (Schedule, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if duration < time.Second {
		return nil, fmt.Errorf("schedule interval %s is shorter than one second", duration)
	}
	return cron.Every(duration), nil
}
