package compare

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

const (
	// DefaultRecencyWindow is how recently an appeared issue must have been created to be reported as new
	DefaultRecencyWindow = 7 * 24 * time.Hour

	remoteIssueLinkField = "remoteissuelink"
)

// DetailProvider fetches the expanded view of a single issue
type DetailProvider interface {
	GetIssueDetail(ctx context.Context, key string) (storage.IssueDetail, error)
}

// Detector reconciles two snapshots of a filter into a change set
type Detector struct {
	// RecencyWindow limits which appeared issues count as new. Issues that entered the
	// filter but were created earlier are dropped without a notification.
	RecencyWindow time.Duration
	Now           func() time.Time
}

// NewDetector creates a detector with the given recency window
func NewDetector(recencyWindow time.Duration) *Detector {
	if recencyWindow <= 0 {
		recencyWindow = DefaultRecencyWindow
	}
	return &Detector{
		RecencyWindow: recencyWindow,
		Now:           time.Now,
	}
}

// Partition splits the keys of both snapshots into appeared, disappeared and common sets
func Partition(previous, current []storage.Issue) (appeared, disappeared, common sets.Set[string]) {
	previousKeys := keys(previous)
	currentKeys := keys(current)

	return currentKeys.Difference(previousKeys), previousKeys.Difference(currentKeys), currentKeys.Intersection(previousKeys)
}

// DetectChanges compares the previous snapshot with the current one. Details are fetched
// only for issues that may carry something new, and any provider error aborts detection.
func (d *Detector) DetectChanges(ctx context.Context, previous, current []storage.Issue, provider DetailProvider) (storage.ChangeSet, error) {
	var result storage.ChangeSet

	appeared, disappeared, common := Partition(previous, current)
	previousByKey := byKey(previous)
	currentByKey := byKey(current)

	cutoff := d.now().Add(-d.RecencyWindow)
	for _, issue := range current {
		if appeared.Has(issue.Key) && issue.Created.After(cutoff) {
			result.NewIssues = append(result.NewIssues, issue)
		}
	}

	for _, issue := range previous {
		if !disappeared.Has(issue.Key) {
			continue
		}
		detail, err := provider.GetIssueDetail(ctx, issue.Key)
		if err != nil {
			return storage.ChangeSet{}, fmt.Errorf("failed to get detail of disappeared issue %s: %w", issue.Key, err)
		}
		if detail.NotFound {
			result.UpdatedIssues = append(result.UpdatedIssues, detail)
			continue
		}
		if newer(detail.Updated, issue.Updated) {
			result.UpdatedIssues = append(result.UpdatedIssues, filterDetail(detail, issue.Key, previousByKey))
		}
	}

	for _, key := range sets.List(common) {
		if !newer(currentByKey[key].Updated, previousByKey[key].Updated) {
			continue
		}
		detail, err := provider.GetIssueDetail(ctx, key)
		if err != nil {
			return storage.ChangeSet{}, fmt.Errorf("failed to get detail of issue %s: %w", key, err)
		}
		if detail.NotFound {
			result.UpdatedIssues = append(result.UpdatedIssues, detail)
			continue
		}
		detail = filterDetail(detail, key, previousByKey)
		if len(detail.Changes) > 0 {
			result.UpdatedIssues = append(result.UpdatedIssues, detail)
		}
	}

	return result, nil
}

func (d *Detector) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// filterDetail keeps only comments and history entries newer than the watermark of the
// requested key. The tracker may answer with another key for a moved issue, so the
// watermark is never looked up by detail.Key. Without a baseline row nothing is filtered.
func filterDetail(detail storage.IssueDetail, requestedKey string, previousByKey map[string]storage.Issue) storage.IssueDetail {
	baseline, ok := previousByKey[requestedKey]
	if !ok {
		return detail
	}
	watermark := baseline.Updated

	var comments []storage.Comment
	for _, comment := range detail.Comments {
		if newer(comment.Updated, watermark) {
			comments = append(comments, comment)
		}
	}

	var changes []storage.HistoryEntry
	for _, entry := range detail.Changes {
		if !newer(entry.Created, watermark) {
			continue
		}
		var fieldChanges []storage.FieldChange
		for _, change := range entry.FieldChanges {
			if strings.EqualFold(change.Field, remoteIssueLinkField) {
				continue
			}
			fieldChanges = append(fieldChanges, change)
		}
		if len(fieldChanges) == 0 {
			continue
		}
		entry.FieldChanges = fieldChanges
		changes = append(changes, entry)
	}

	detail.Comments = comments
	detail.Changes = changes
	return detail
}

// newer compares timestamps at second granularity
func newer(t, watermark time.Time) bool {
	return t.Unix() > watermark.Unix()
}

func keys(issues []storage.Issue) sets.Set[string] {
	result := sets.New[string]()
	for _, issue := range issues {
		result.Insert(issue.Key)
	}
	return result
}

func byKey(issues []storage.Issue) map[string]storage.Issue {
	result := make(map[string]storage.Issue, len(issues))
	for _, issue := range issues {
		result[issue.Key] = issue
	}
	return result
}
