package flagutil

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	// MinimumInterval is the shortest polling interval accepted outside test mode
	MinimumInterval = 300 * time.Second

	DefaultBrowser    = "Safari"
	DefaultMaxResults = 100

	defaultRecencyWindow  = 7 * 24 * time.Hour
	defaultRequestTimeout = 30 * time.Second
	// the prow client already retries connection errors, 429 and 5xx inside one request
	defaultRetries        = 0
	testModeArg           = "test"
	scheduleSampleWindow  = 7 * 24 * time.Hour
)

// WatchOptions configure a filter watch
type WatchOptions struct {
	FilterID string

	IntervalSeconds   int
	Browser           string
	MaxResults        int
	RecencyWindow     time.Duration
	RequestTimeout    time.Duration
	Retries           int
	Schedule          string
	Storage           string
	PersistEveryCycle bool
	TestMode          bool
}

// AddPFlags injects watch options into the given pflag.FlagSet
func (o *WatchOptions) AddPFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.IntervalSeconds, "interval", int(MinimumInterval/time.Second), "Polling interval in seconds")
	fs.StringVar(&o.Browser, "browser", DefaultBrowser, "Browser opening links from desktop notifications (macOS)")
	fs.IntVar(&o.MaxResults, "max-results", DefaultMaxResults, "Maximum number of issues fetched from the filter")
	fs.DurationVar(&o.RecencyWindow, "recency-window", defaultRecencyWindow, "Issues entering the filter are reported as new only if created within this window")
	fs.DurationVar(&o.RequestTimeout, "request-timeout", defaultRequestTimeout, "Timeout of a single Jira request")
	fs.IntVar(&o.Retries, "retries", defaultRetries, "Extra attempts of a Jira request that still failed transiently after the client's own retries")
	fs.StringVar(&o.Schedule, "schedule", "", "Cron expression scheduling the polls, overrides --interval")
	fs.StringVar(&o.Storage, "storage", "file", "Snapshot storage driver (file, sqlite)")
	fs.BoolVar(&o.PersistEveryCycle, "persist-every-cycle", false, "Save the snapshot after every successful poll, not only when something changed")
	fs.BoolVar(&o.TestMode, "test-mode", false, "Allow polling intervals below the minimum")
}

// ApplyArgs reads the positional form <filter-id> [interval-seconds] [browser] [test].
// Positional values override the corresponding flags.
func (o *WatchOptions) ApplyArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("filter ID is required")
	}
	o.FilterID = args[0]

	if len(args) > 1 {
		interval, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", args[1], err)
		}
		o.IntervalSeconds = interval
	}
	if len(args) > 2 {
		o.Browser = args[2]
	}
	if len(args) > 3 {
		if args[3] != testModeArg {
			return fmt.Errorf("unexpected argument %q", args[3])
		}
		o.TestMode = true
	}

	return nil
}

// Validate checks the options and raises a too short interval to the minimum unless in
// test mode
func (o *WatchOptions) Validate() error {
	if err := ValidateFilterID(o.FilterID); err != nil {
		return err
	}
	if o.IntervalSeconds <= 0 {
		return fmt.Errorf("interval must be positive, got %d", o.IntervalSeconds)
	}
	if !o.TestMode && o.Interval() < MinimumInterval {
		logrus.WithField("interval", o.IntervalSeconds).Warnf("Minimum polling interval is %d seconds, using it", int(MinimumInterval/time.Second))
		o.IntervalSeconds = int(MinimumInterval / time.Second)
	}
	if o.MaxResults <= 0 {
		return fmt.Errorf("max results must be positive, got %d", o.MaxResults)
	}
	if o.RecencyWindow <= 0 {
		return fmt.Errorf("recency window must be positive, got %s", o.RecencyWindow)
	}
	if o.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", o.RequestTimeout)
	}
	if o.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", o.Retries)
	}
	if o.Schedule != "" {
		schedule, err := cron.ParseStandard(o.Schedule)
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", o.Schedule, err)
		}
		if !o.TestMode {
			if gap := shortestGap(schedule); gap < MinimumInterval {
				return fmt.Errorf("schedule %q polls every %s, minimum is %s", o.Schedule, gap, MinimumInterval)
			}
		}
	}
	switch o.Storage {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage %q (valid: file, sqlite)", o.Storage)
	}

	return nil
}

// Interval returns the polling interval
func (o *WatchOptions) Interval() time.Duration {
	return time.Duration(o.IntervalSeconds) * time.Second
}

// CronSchedule returns when polls happen: the cron expression when set, a constant delay
// of Interval otherwise
func (o *WatchOptions) CronSchedule() (cron.Schedule, error) {
	if o.Schedule != "" {
		return cron.ParseStandard(o.Schedule)
	}
	return cron.Every(o.Interval()), nil
}

// shortestGap returns the shortest pause between two consecutive runs of a schedule
// within a week
func shortestGap(schedule cron.Schedule) time.Duration {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(scheduleSampleWindow)

	shortest := scheduleSampleWindow
	previous := schedule.Next(start)
	for previous.Before(end) && shortest >= MinimumInterval {
		next := schedule.Next(previous)
		if next.IsZero() {
			break
		}
		shortest = min(shortest, next.Sub(previous))
		previous = next
	}
	return shortest
}

// ValidateFilterID checks that a filter ID is a positive number
func ValidateFilterID(filterID string) error {
	if filterID == "" {
		return fmt.Errorf("filter ID is required")
	}
	id, err := strconv.Atoi(filterID)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid filter ID %q: must be a positive number", filterID)
	}
	return nil
}
