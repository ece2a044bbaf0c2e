package flagutil

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func parsedOptions(t *testing.T, flags ...string) *WatchOptions {
	t.Helper()
	o := &WatchOptions{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddPFlags(fs)
	if err := fs.Parse(flags); err != nil {
		t.Fatalf("cannot parse flags: %v", err)
	}
	return o
}

func TestApplyArgs(t *testing.T) {
	testCases := []struct {
		name             string
		args             []string
		expectedInterval int
		expectedBrowser  string
		expectedTestMode bool
		expectError      bool
	}{
		{name: "no args", expectError: true},
		{name: "filter only", args: []string{"123"}, expectedInterval: 300, expectedBrowser: "Safari"},
		{name: "filter and interval", args: []string{"123", "600"}, expectedInterval: 600, expectedBrowser: "Safari"},
		{name: "filter, interval and browser", args: []string{"123", "600", "Firefox"}, expectedInterval: 600, expectedBrowser: "Firefox"},
		{name: "test mode", args: []string{"123", "10", "Firefox", "test"}, expectedInterval: 10, expectedBrowser: "Firefox", expectedTestMode: true},
		{name: "invalid interval", args: []string{"123", "soon"}, expectError: true},
		{name: "unexpected fourth argument", args: []string{"123", "10", "Firefox", "prod"}, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := parsedOptions(t)
			err := o.ApplyArgs(tc.args)
			if tc.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if o.FilterID != tc.args[0] || o.IntervalSeconds != tc.expectedInterval || o.Browser != tc.expectedBrowser || o.TestMode != tc.expectedTestMode {
				t.Errorf("unexpected options %+v", o)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name             string
		flags            []string
		filterID         string
		expectedInterval time.Duration
		expectError      bool
	}{
		{name: "defaults", filterID: "123", expectedInterval: 300 * time.Second},
		{name: "short interval is raised to minimum", flags: []string{"--interval=60"}, filterID: "123", expectedInterval: 300 * time.Second},
		{name: "short interval kept in test mode", flags: []string{"--interval=5", "--test-mode"}, filterID: "123", expectedInterval: 5 * time.Second},
		{name: "longer interval kept", flags: []string{"--interval=900"}, filterID: "123", expectedInterval: 900 * time.Second},
		{name: "missing filter", expectError: true},
		{name: "non-numeric filter", filterID: "abc", expectError: true},
		{name: "negative filter", filterID: "-1", expectError: true},
		{name: "zero interval", flags: []string{"--interval=0"}, filterID: "123", expectError: true},
		{name: "invalid schedule", flags: []string{"--schedule=every minute"}, filterID: "123", expectError: true},
		{name: "valid schedule", flags: []string{"--schedule=*/10 * * * *"}, filterID: "123", expectedInterval: 300 * time.Second},
		{name: "schedule below minimum", flags: []string{"--schedule=* * * * *"}, filterID: "123", expectError: true},
		{name: "schedule with one short gap a day", flags: []string{"--schedule=0,1 9 * * *"}, filterID: "123", expectError: true},
		{name: "schedule below minimum in test mode", flags: []string{"--schedule=* * * * *", "--test-mode"}, filterID: "123", expectedInterval: 300 * time.Second},
		{name: "unknown storage", flags: []string{"--storage=redis"}, filterID: "123", expectError: true},
		{name: "negative retries", flags: []string{"--retries=-1"}, filterID: "123", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := parsedOptions(t, tc.flags...)
			o.FilterID = tc.filterID

			err := o.Validate()
			if tc.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.expectedInterval, o.Interval()); diff != "" {
				t.Errorf("unexpected interval (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultRetries(t *testing.T) {
	o := parsedOptions(t)
	if o.Retries != 0 {
		t.Errorf("expected no extra retries on top of the client's own by default, got %d", o.Retries)
	}
	if o.RequestTimeout != 30*time.Second {
		t.Errorf("expected request timeout to bound every attempt, got %s", o.RequestTimeout)
	}
}

func TestCronSchedule(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC)

	o := parsedOptions(t, "--interval=600")
	schedule, err := o.CronSchedule()
	if err != nil {
		t.Fatalf("CronSchedule failed: %v", err)
	}
	if got := schedule.Next(start); !got.Equal(start.Add(10 * time.Minute)) {
		t.Errorf("expected constant delay, got %s", got)
	}

	o = parsedOptions(t, "--schedule=*/15 * * * *")
	schedule, err = o.CronSchedule()
	if err != nil {
		t.Fatalf("CronSchedule failed: %v", err)
	}
	if got := schedule.Next(start); !got.Equal(time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("expected next quarter hour, got %s", got)
	}
}
