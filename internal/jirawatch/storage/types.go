package storage

import (
	"time"
)

// Snapshot is the persisted state of a watched filter
type Snapshot struct {
	FilterID  string    `yaml:"filter_id"`
	LastSaved time.Time `yaml:"last_saved"`
	Issues    []Issue   `yaml:"issues"`
}

// SnapshotListItem is a summary of a stored snapshot
type SnapshotListItem struct {
	FilterID   string
	LastSaved  time.Time
	IssueCount int
}

// Issue represents a JIRA issue as it appears in a snapshot
type Issue struct {
	Key     string    `yaml:"key"`
	Summary string    `yaml:"summary"`
	Status  string    `yaml:"status"`
	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
}

// IssueDetail is the expanded view of an issue, fetched on demand and never persisted.
// When NotFound is set the tracker could not produce the issue anymore and only Key and
// ErrorMessages are meaningful.
type IssueDetail struct {
	Issue

	Comments []Comment
	Changes  []HistoryEntry

	NotFound      bool
	ErrorMessages []string
}

// Comment is a single comment on an issue
type Comment struct {
	Updated time.Time
	Author  string
	Body    string
}

// HistoryEntry is one changelog entry of an issue
type HistoryEntry struct {
	Created      time.Time
	Author       string
	FieldChanges []FieldChange
}

// FieldChange is a single field modification inside a history entry. Empty From or To
// means the value was absent.
type FieldChange struct {
	Field string
	From  string
	To    string
}

// ChangeSet is the outcome of comparing two snapshots
type ChangeSet struct {
	NewIssues     []Issue
	UpdatedIssues []IssueDetail
}

// Empty returns true if the change set has nothing to report
func (c ChangeSet) Empty() bool {
	return len(c.NewIssues) == 0 && len(c.UpdatedIssues) == 0
}
