package jira

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/google/go-cmp/cmp"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

type fakeResult struct {
	status int
	err    error
}

type fakeAPI struct {
	issues  []jira.Issue
	issue   *jira.Issue
	filter  *jira.Filter
	results []fakeResult

	calls       int
	lastJQL     string
	lastSearch  *jira.SearchOptions
	lastGetOpts *jira.GetQueryOptions
	deadlines   []bool
}

func (f *fakeAPI) next(ctx context.Context) (*jira.Response, error) {
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)

	f.calls++
	if len(f.results) == 0 {
		return &jira.Response{Response: &http.Response{StatusCode: http.StatusOK}}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]

	var resp *jira.Response
	if result.status != 0 {
		resp = &jira.Response{Response: &http.Response{StatusCode: result.status}}
	}
	return resp, result.err
}

func (f *fakeAPI) Search(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
	f.lastJQL = jql
	f.lastSearch = options
	resp, err := f.next(ctx)
	if err != nil {
		return nil, resp, err
	}
	return f.issues, resp, nil
}

func (f *fakeAPI) GetIssue(ctx context.Context, _ string, options *jira.GetQueryOptions) (*jira.Issue, *jira.Response, error) {
	f.lastGetOpts = options
	resp, err := f.next(ctx)
	if err != nil {
		return nil, resp, err
	}
	return f.issue, resp, nil
}

func (f *fakeAPI) GetFilter(ctx context.Context, _ int) (*jira.Filter, *jira.Response, error) {
	resp, err := f.next(ctx)
	if err != nil {
		return nil, resp, err
	}
	return f.filter, resp, nil
}

func newTestClient(a api, retries int) *Client {
	c := newClient(a, "https://jira.example.com/", Options{Retries: retries})
	c.backoff.Duration = time.Millisecond
	return c
}

func jiraTime(t *testing.T, value string) jira.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatal(err)
	}
	return jira.Time(parsed)
}

func TestListIssues(t *testing.T) {
	created := jiraTime(t, "2024-01-01T00:00:00Z")
	updated := jiraTime(t, "2024-01-02T00:00:00Z")

	fake := &fakeAPI{
		issues: []jira.Issue{
			{Key: "X-2", Fields: &jira.IssueFields{Summary: "Second", Status: &jira.Status{Name: "Open"}, Created: created, Updated: updated}},
			{Key: "X-1", Fields: &jira.IssueFields{Summary: "First", Created: created, Updated: created}},
		},
	}

	issues, err := newTestClient(fake, 0).ListIssues(context.Background(), "12345", 100)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}

	expected := []storage.Issue{
		{Key: "X-2", Summary: "Second", Status: "Open", Created: time.Time(created), Updated: time.Time(updated)},
		{Key: "X-1", Summary: "First", Created: time.Time(created), Updated: time.Time(created)},
	}
	if diff := cmp.Diff(expected, issues); diff != "" {
		t.Errorf("unexpected issues (-want +got):\n%s", diff)
	}
	if fake.lastJQL != "filter = 12345" {
		t.Errorf("unexpected JQL %q", fake.lastJQL)
	}
	if fake.lastSearch.MaxResults != 100 {
		t.Errorf("expected max results 100, got %d", fake.lastSearch.MaxResults)
	}
	if diff := cmp.Diff([]string{"summary", "status", "created", "updated"}, fake.lastSearch.Fields); diff != "" {
		t.Errorf("unexpected fields (-want +got):\n%s", diff)
	}
}

func TestRetries(t *testing.T) {
	testCases := []struct {
		name          string
		retries       int
		results       []fakeResult
		expectedCalls int
		expectErr     bool
		expectTransit bool
	}{
		{
			name:          "transient failure then success",
			retries:       2,
			results:       []fakeResult{{status: http.StatusBadGateway, err: errors.New("bad gateway")}},
			expectedCalls: 2,
		},
		{
			name:    "retries exhausted",
			retries: 2,
			results: []fakeResult{
				{err: io.ErrUnexpectedEOF},
				{err: io.ErrUnexpectedEOF},
				{err: io.ErrUnexpectedEOF},
			},
			expectedCalls: 3,
			expectErr:     true,
			expectTransit: true,
		},
		{
			name:          "no retries configured",
			retries:       0,
			results:       []fakeResult{{status: http.StatusTooManyRequests, err: errors.New("slow down")}},
			expectedCalls: 1,
			expectErr:     true,
			expectTransit: true,
		},
		{
			name:          "fatal failure is not retried",
			retries:       2,
			results:       []fakeResult{{status: http.StatusUnauthorized, err: errors.New("unauthorized")}},
			expectedCalls: 1,
			expectErr:     true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeAPI{results: tc.results}
			_, err := newTestClient(fake, tc.retries).ListIssues(context.Background(), "1", 10)

			if tc.expectErr != (err != nil) {
				t.Fatalf("expected error=%t, got %v", tc.expectErr, err)
			}
			if IsTransient(err) != tc.expectTransit {
				t.Errorf("expected transient=%t, got %v", tc.expectTransit, err)
			}
			if fake.calls != tc.expectedCalls {
				t.Errorf("expected %d calls, got %d", tc.expectedCalls, fake.calls)
			}
			for i, hasDeadline := range fake.deadlines {
				if !hasDeadline {
					t.Errorf("call %d had no deadline", i)
				}
			}
		})
	}
}

func TestGetIssueDetail(t *testing.T) {
	created := jiraTime(t, "2024-01-01T00:00:00Z")
	updated := jiraTime(t, "2024-01-02T00:00:00Z")

	t.Run("comments and changelog are converted", func(t *testing.T) {
		fake := &fakeAPI{
			issue: &jira.Issue{
				Key: "X-1",
				Fields: &jira.IssueFields{
					Summary: "First",
					Status:  &jira.Status{Name: "In Progress"},
					Created: created,
					Updated: updated,
					Comments: &jira.Comments{Comments: []*jira.Comment{
						{Author: jira.User{DisplayName: "Alice"}, Body: "looking", Updated: "2024-01-01T12:00:00.000+0000"},
					}},
				},
				Changelog: &jira.Changelog{Histories: []jira.ChangelogHistory{
					{
						Author:  jira.User{Name: "bob"},
						Created: "2024-01-01T13:30:00.000+0100",
						Items: []jira.ChangelogItems{
							{Field: "status", FromString: "Open", ToString: "In Progress"},
							{Field: "Fix Version", ToString: "4.16"},
						},
					},
				}},
			},
		}

		detail, err := newTestClient(fake, 0).GetIssueDetail(context.Background(), "X-1")
		if err != nil {
			t.Fatalf("GetIssueDetail failed: %v", err)
		}

		expected := storage.IssueDetail{
			Issue: storage.Issue{Key: "X-1", Summary: "First", Status: "In Progress", Created: time.Time(created), Updated: time.Time(updated)},
			Comments: []storage.Comment{
				{Updated: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), Author: "Alice", Body: "looking"},
			},
			Changes: []storage.HistoryEntry{
				{
					Created: time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC),
					Author:  "bob",
					FieldChanges: []storage.FieldChange{
						{Field: "status", From: "Open", To: "In Progress"},
						{Field: "Fix Version", To: "4.16"},
					},
				},
			},
		}
		if diff := cmp.Diff(expected, detail); diff != "" {
			t.Errorf("unexpected detail (-want +got):\n%s", diff)
		}
		if fake.lastGetOpts.Expand != "changelog" || fake.lastGetOpts.Fields != "status,created,updated,summary,comment" {
			t.Errorf("unexpected query options %+v", fake.lastGetOpts)
		}
	})

	t.Run("missing issue becomes not found detail", func(t *testing.T) {
		fake := &fakeAPI{results: []fakeResult{{
			status: http.StatusNotFound,
			err:    &jira.Error{ErrorMessages: []string{"Issue does not exist or you do not have permission to see it."}},
		}}}

		detail, err := newTestClient(fake, 2).GetIssueDetail(context.Background(), "X-2")
		if err != nil {
			t.Fatalf("GetIssueDetail failed: %v", err)
		}
		expected := storage.IssueDetail{
			Issue:         storage.Issue{Key: "X-2"},
			NotFound:      true,
			ErrorMessages: []string{"Issue does not exist or you do not have permission to see it."},
		}
		if diff := cmp.Diff(expected, detail); diff != "" {
			t.Errorf("unexpected detail (-want +got):\n%s", diff)
		}
		if fake.calls != 1 {
			t.Errorf("not found must not be retried, got %d calls", fake.calls)
		}
	})

	t.Run("unparsable timestamps are transient", func(t *testing.T) {
		fake := &fakeAPI{issue: &jira.Issue{
			Key:    "X-3",
			Fields: &jira.IssueFields{Comments: &jira.Comments{Comments: []*jira.Comment{{Updated: "yesterday"}}}},
		}}

		_, err := newTestClient(fake, 0).GetIssueDetail(context.Background(), "X-3")
		if !IsTransient(err) {
			t.Errorf("expected transient error, got %v", err)
		}
	})
}

func TestFilterName(t *testing.T) {
	fake := &fakeAPI{filter: &jira.Filter{Name: "My open bugs"}}
	client := newTestClient(fake, 0)

	name, err := client.FilterName(context.Background(), "12345")
	if err != nil {
		t.Fatalf("FilterName failed: %v", err)
	}
	if name != "My open bugs" {
		t.Errorf("unexpected filter name %q", name)
	}

	if _, err := client.FilterName(context.Background(), "abc"); err == nil {
		t.Errorf("expected error for non-numeric filter ID")
	}
}

func TestURLs(t *testing.T) {
	client := newTestClient(&fakeAPI{}, 0)

	if got := client.IssueURL("X-1"); got != "https://jira.example.com/browse/X-1" {
		t.Errorf("unexpected issue URL %q", got)
	}
	if got := client.FilterURL("12345"); got != "https://jira.example.com/issues/?filter=12345" {
		t.Errorf("unexpected filter URL %q", got)
	}
}

func TestClassify(t *testing.T) {
	response := func(status int) *jira.Response {
		return &jira.Response{Response: &http.Response{StatusCode: status}}
	}

	testCases := []struct {
		name      string
		resp      *jira.Response
		err       error
		transient bool
	}{
		{name: "server error", resp: response(http.StatusServiceUnavailable), err: errors.New("unavailable"), transient: true},
		{name: "rate limited", resp: response(http.StatusTooManyRequests), err: errors.New("rate limited"), transient: true},
		{name: "malformed body", resp: response(http.StatusOK), err: errors.New("invalid character"), transient: true},
		{name: "bad request", resp: response(http.StatusBadRequest), err: errors.New("bad JQL")},
		{name: "unauthorized", resp: response(http.StatusUnauthorized), err: errors.New("unauthorized")},
		{name: "timeout", err: fmt.Errorf("no response returned: %w", context.DeadlineExceeded), transient: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "jira.example.com"}, transient: true},
		{name: "connection reset", err: &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}, transient: true},
		{name: "cancelled", err: context.Canceled},
		{name: "unexpected", err: errors.New("boom")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("test", tc.resp, tc.err)
			if IsTransient(err) != tc.transient {
				t.Errorf("expected transient=%t, got %v", tc.transient, err)
			}
			if !errors.Is(err, tc.err) {
				t.Errorf("classified error must wrap the original")
			}
		})
	}
}
