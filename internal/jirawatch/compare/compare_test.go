package compare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

type fakeProvider struct {
	details map[string]storage.IssueDetail
	err     error
	calls   []string
}

func (f *fakeProvider) GetIssueDetail(_ context.Context, key string) (storage.IssueDetail, error) {
	f.calls = append(f.calls, key)
	if f.err != nil {
		return storage.IssueDetail{}, f.err
	}
	detail, ok := f.details[key]
	if !ok {
		return storage.IssueDetail{}, fmt.Errorf("unexpected detail request for %s", key)
	}
	return detail, nil
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("cannot parse %q: %v", value, err)
	}
	return parsed
}

var now = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	d := NewDetector(DefaultRecencyWindow)
	d.Now = func() time.Time { return now }
	return d
}

func TestPartition(t *testing.T) {
	testCases := []struct {
		name     string
		previous []string
		current  []string
	}{
		{name: "both empty"},
		{name: "only current", current: []string{"A-1", "A-2"}},
		{name: "only previous", previous: []string{"A-1", "A-2"}},
		{name: "overlap", previous: []string{"A-1", "A-2", "A-3"}, current: []string{"A-2", "A-3", "A-4"}},
		{name: "identical", previous: []string{"A-1", "A-2"}, current: []string{"A-2", "A-1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			toIssues := func(keys []string) []storage.Issue {
				var issues []storage.Issue
				for _, key := range keys {
					issues = append(issues, storage.Issue{Key: key})
				}
				return issues
			}

			appeared, disappeared, common := Partition(toIssues(tc.previous), toIssues(tc.current))

			if appeared.HasAny(sets.List(disappeared)...) || appeared.HasAny(sets.List(common)...) || disappeared.HasAny(sets.List(common)...) {
				t.Errorf("partitions overlap: appeared=%v disappeared=%v common=%v", sets.List(appeared), sets.List(disappeared), sets.List(common))
			}

			union := appeared.Union(disappeared).Union(common)
			all := sets.New(tc.previous...).Union(sets.New(tc.current...))
			if !union.Equal(all) {
				t.Errorf("partitions cover %v, expected %v", sets.List(union), sets.List(all))
			}
		})
	}
}

func TestDetectChanges(t *testing.T) {
	t0 := mustTime(t, "2024-01-01T00:00:00Z")
	t1 := mustTime(t, "2024-01-02T00:00:00Z")
	fresh := now.Add(-24 * time.Hour)
	stale := now.Add(-30 * 24 * time.Hour)

	statusChange := storage.HistoryEntry{
		Created:      mustTime(t, "2024-01-01T12:00:00Z"),
		Author:       "Alice",
		FieldChanges: []storage.FieldChange{{Field: "status", From: "Open", To: "In Progress"}},
	}

	testCases := []struct {
		name          string
		previous      []storage.Issue
		current       []storage.Issue
		details       map[string]storage.IssueDetail
		expected      storage.ChangeSet
		expectedCalls []string
	}{
		{
			name:     "clean update keeps entries newer than the watermark",
			previous: []storage.Issue{{Key: "X-1", Created: t0, Updated: t0}},
			current:  []storage.Issue{{Key: "X-1", Created: t0, Updated: t1}},
			details: map[string]storage.IssueDetail{
				"X-1": {Issue: storage.Issue{Key: "X-1", Created: t0, Updated: t1}, Changes: []storage.HistoryEntry{statusChange}},
			},
			expected: storage.ChangeSet{
				UpdatedIssues: []storage.IssueDetail{
					{Issue: storage.Issue{Key: "X-1", Created: t0, Updated: t1}, Changes: []storage.HistoryEntry{statusChange}},
				},
			},
			expectedCalls: []string{"X-1"},
		},
		{
			name:     "vanished issue is always reported",
			previous: []storage.Issue{{Key: "X-2", Created: t0, Updated: t0}},
			details: map[string]storage.IssueDetail{
				"X-2": {Issue: storage.Issue{Key: "X-2"}, NotFound: true, ErrorMessages: []string{"Issue does not exist"}},
			},
			expected: storage.ChangeSet{
				UpdatedIssues: []storage.IssueDetail{
					{Issue: storage.Issue{Key: "X-2"}, NotFound: true, ErrorMessages: []string{"Issue does not exist"}},
				},
			},
			expectedCalls: []string{"X-2"},
		},
		{
			name:     "stale appeared issue is silently dropped",
			previous: []storage.Issue{{Key: "X-9", Created: t0, Updated: t0}},
			current: []storage.Issue{
				{Key: "X-9", Created: t0, Updated: t0},
				{Key: "X-3", Created: stale, Updated: stale},
			},
			expected: storage.ChangeSet{},
		},
		{
			name:     "fresh appeared issues are new in current order",
			previous: []storage.Issue{{Key: "X-9", Created: t0, Updated: t0}},
			current: []storage.Issue{
				{Key: "X-9", Created: t0, Updated: t0},
				{Key: "X-5", Created: fresh, Updated: fresh},
				{Key: "X-4", Created: fresh, Updated: fresh},
			},
			expected: storage.ChangeSet{
				NewIssues: []storage.Issue{
					{Key: "X-5", Created: fresh, Updated: fresh},
					{Key: "X-4", Created: fresh, Updated: fresh},
				},
			},
		},
		{
			name:     "unchanged common issue never fetches detail",
			previous: []storage.Issue{{Key: "X-1", Created: t0, Updated: t1}},
			current:  []storage.Issue{{Key: "X-1", Created: t0, Updated: t1}},
			expected: storage.ChangeSet{},
		},
		{
			name:     "sub-second difference is not an update",
			previous: []storage.Issue{{Key: "X-1", Created: t0, Updated: t1}},
			current:  []storage.Issue{{Key: "X-1", Created: t0, Updated: t1.Add(500 * time.Millisecond)}},
			expected: storage.ChangeSet{},
		},
		{
			name:     "updated common issue with only old entries is dropped",
			previous: []storage.Issue{{Key: "X-1", Created: t0, Updated: t0}},
			current:  []storage.Issue{{Key: "X-1", Created: t0, Updated: t1}},
			details: map[string]storage.IssueDetail{
				"X-1": {
					Issue:    storage.Issue{Key: "X-1", Updated: t1},
					Comments: []storage.Comment{{Updated: t1, Author: "Bob", Body: "new comment"}},
					Changes: []storage.HistoryEntry{
						{Created: t0, FieldChanges: []storage.FieldChange{{Field: "status", From: "New", To: "Open"}}},
					},
				},
			},
			expected:      storage.ChangeSet{},
			expectedCalls: []string{"X-1"},
		},
		{
			name:     "remote link only entries are noise",
			previous: []storage.Issue{{Key: "X-1", Created: t0, Updated: t0}},
			current:  []storage.Issue{{Key: "X-1", Created: t0, Updated: t1}},
			details: map[string]storage.IssueDetail{
				"X-1": {
					Issue: storage.Issue{Key: "X-1", Updated: t1},
					Changes: []storage.HistoryEntry{
						{Created: t1, FieldChanges: []storage.FieldChange{{Field: "RemoteIssueLink", To: "This issue links to PR"}}},
					},
				},
			},
			expected:      storage.ChangeSet{},
			expectedCalls: []string{"X-1"},
		},
		{
			name: "disappeared updates precede common updates in key order",
			previous: []storage.Issue{
				{Key: "X-3", Created: t0, Updated: t0},
				{Key: "X-1", Created: t0, Updated: t0},
				{Key: "X-7", Created: t0, Updated: t0},
				{Key: "X-6", Created: t0, Updated: t0},
			},
			current: []storage.Issue{
				{Key: "X-3", Created: t0, Updated: t1},
				{Key: "X-1", Created: t0, Updated: t1},
			},
			details: map[string]storage.IssueDetail{
				"X-1": {Issue: storage.Issue{Key: "X-1", Updated: t1}, Changes: []storage.HistoryEntry{statusChange}},
				"X-3": {Issue: storage.Issue{Key: "X-3", Updated: t1}, Changes: []storage.HistoryEntry{statusChange}},
				"X-6": {Issue: storage.Issue{Key: "X-6", Updated: t1}},
				"X-7": {Issue: storage.Issue{Key: "X-7", Updated: t1}},
			},
			expected: storage.ChangeSet{
				UpdatedIssues: []storage.IssueDetail{
					{Issue: storage.Issue{Key: "X-7", Updated: t1}},
					{Issue: storage.Issue{Key: "X-6", Updated: t1}},
					{Issue: storage.Issue{Key: "X-1", Updated: t1}, Changes: []storage.HistoryEntry{statusChange}},
					{Issue: storage.Issue{Key: "X-3", Updated: t1}, Changes: []storage.HistoryEntry{statusChange}},
				},
			},
			expectedCalls: []string{"X-7", "X-6", "X-1", "X-3"},
		},
		{
			name:     "moved issue is filtered by the watermark of the requested key",
			previous: []storage.Issue{{Key: "X-2", Created: t0, Updated: t1}},
			details: map[string]storage.IssueDetail{
				"X-2": {
					Issue:    storage.Issue{Key: "Y-5", Created: t0, Updated: t1.Add(time.Hour)},
					Comments: []storage.Comment{{Updated: t1.Add(-24 * time.Hour), Author: "Bob", Body: "old"}},
					Changes: []storage.HistoryEntry{
						{Created: t1.Add(-24 * time.Hour), Author: "Bob", FieldChanges: []storage.FieldChange{{Field: "status", From: "New", To: "Open"}}},
						{Created: t1.Add(time.Hour), Author: "Bob", FieldChanges: []storage.FieldChange{{Field: "Key", From: "X-2", To: "Y-5"}}},
					},
				},
			},
			expected: storage.ChangeSet{
				UpdatedIssues: []storage.IssueDetail{
					{
						Issue: storage.Issue{Key: "Y-5", Created: t0, Updated: t1.Add(time.Hour)},
						Changes: []storage.HistoryEntry{
							{Created: t1.Add(time.Hour), Author: "Bob", FieldChanges: []storage.FieldChange{{Field: "Key", From: "X-2", To: "Y-5"}}},
						},
					},
				},
			},
			expectedCalls: []string{"X-2"},
		},
		{
			name:     "disappeared issue without newer update is dropped",
			previous: []storage.Issue{{Key: "X-2", Created: t0, Updated: t1}},
			details: map[string]storage.IssueDetail{
				"X-2": {Issue: storage.Issue{Key: "X-2", Updated: t1}},
			},
			expected:      storage.ChangeSet{},
			expectedCalls: []string{"X-2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{details: tc.details}

			result, err := newTestDetector().DetectChanges(context.Background(), tc.previous, tc.current, provider)
			if err != nil {
				t.Fatalf("DetectChanges failed: %v", err)
			}
			if diff := cmp.Diff(tc.expected, result); diff != "" {
				t.Errorf("unexpected change set (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.expectedCalls, provider.calls); diff != "" {
				t.Errorf("unexpected detail calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectChangesPropagatesProviderErrors(t *testing.T) {
	t0 := mustTime(t, "2024-01-01T00:00:00Z")
	t1 := mustTime(t, "2024-01-02T00:00:00Z")
	providerErr := errors.New("connection reset")

	provider := &fakeProvider{err: providerErr}
	_, err := newTestDetector().DetectChanges(context.Background(),
		[]storage.Issue{{Key: "X-1", Updated: t0}},
		[]storage.Issue{{Key: "X-1", Updated: t1}},
		provider)
	if !errors.Is(err, providerErr) {
		t.Errorf("expected provider error to propagate, got %v", err)
	}
}

func TestFilterDetail(t *testing.T) {
	w := mustTime(t, "2024-01-01T00:00:00Z")
	before := w.Add(-time.Minute)
	after := w.Add(time.Minute)

	detail := storage.IssueDetail{
		Issue: storage.Issue{Key: "X-1"},
		Comments: []storage.Comment{
			{Updated: before, Body: "old"},
			{Updated: w, Body: "boundary"},
			{Updated: after, Body: "new"},
		},
		Changes: []storage.HistoryEntry{
			{Created: w, FieldChanges: []storage.FieldChange{{Field: "status"}}},
			{Created: after, FieldChanges: []storage.FieldChange{{Field: "remoteIssueLINK"}, {Field: "priority", From: "Minor", To: "Major"}}},
			{Created: after, FieldChanges: []storage.FieldChange{{Field: "RemoteIssueLink"}}},
		},
	}

	t.Run("watermark is strict", func(t *testing.T) {
		filtered := filterDetail(detail, "X-1", map[string]storage.Issue{"X-1": {Key: "X-1", Updated: w}})

		for _, comment := range filtered.Comments {
			if !comment.Updated.After(w) {
				t.Errorf("comment at %s survived watermark %s", comment.Updated, w)
			}
		}
		for _, entry := range filtered.Changes {
			if !entry.Created.After(w) {
				t.Errorf("history entry at %s survived watermark %s", entry.Created, w)
			}
			for _, change := range entry.FieldChanges {
				if strings.EqualFold(change.Field, "remoteissuelink") {
					t.Errorf("remote link change survived: %+v", change)
				}
			}
		}

		expected := storage.IssueDetail{
			Issue:    storage.Issue{Key: "X-1"},
			Comments: []storage.Comment{{Updated: after, Body: "new"}},
			Changes: []storage.HistoryEntry{
				{Created: after, FieldChanges: []storage.FieldChange{{Field: "priority", From: "Minor", To: "Major"}}},
			},
		}
		if diff := cmp.Diff(expected, filtered); diff != "" {
			t.Errorf("unexpected filtered detail (-want +got):\n%s", diff)
		}
	})

	t.Run("no baseline means no filtering", func(t *testing.T) {
		filtered := filterDetail(detail, "X-1", map[string]storage.Issue{})
		if diff := cmp.Diff(detail, filtered); diff != "" {
			t.Errorf("detail without baseline must be untouched (-want +got):\n%s", diff)
		}
	})
}
