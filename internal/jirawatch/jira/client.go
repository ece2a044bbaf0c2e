package jira

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
	prowjira "sigs.k8s.io/prow/pkg/jira"

	"github.com/skyofdwarf/jira-notify/internal/flagutil"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

const (
	// timeLayout is the timestamp format of comments and changelog entries
	timeLayout = "2006-01-02T15:04:05.000-0700"

	listFields   = "summary,status,created,updated"
	detailFields = "status,created,updated,summary,comment"

	DefaultRequestTimeout = 30 * time.Second
)

// api is the part of the tracker REST surface the watcher talks to
type api interface {
	Search(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error)
	GetIssue(ctx context.Context, key string, options *jira.GetQueryOptions) (*jira.Issue, *jira.Response, error)
	GetFilter(ctx context.Context, filterID int) (*jira.Filter, *jira.Response, error)
}

// prowAPI adapts the prow jira client to api
type prowAPI struct {
	client prowjira.Client
}

func (p prowAPI) Search(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
	return p.client.SearchWithContext(ctx, jql, options)
}

func (p prowAPI) GetIssue(ctx context.Context, key string, options *jira.GetQueryOptions) (*jira.Issue, *jira.Response, error) {
	return p.client.JiraClient().Issue.GetWithContext(ctx, key, options)
}

func (p prowAPI) GetFilter(ctx context.Context, filterID int) (*jira.Filter, *jira.Response, error) {
	return p.client.JiraClient().Filter.GetWithContext(ctx, filterID)
}

// Options tune how the client talks to the tracker
type Options struct {
	RequestTimeout time.Duration
	Retries        int
	Logger         *logrus.Entry
}

// Client wraps the prow jira client with the calls the watcher needs. Every call gets its
// own timeout and transient failures are retried with exponential backoff.
type Client struct {
	api            api
	baseURL        string
	requestTimeout time.Duration
	backoff        wait.Backoff
	logger         *logrus.Entry
}

// NewClient creates a new JIRA client using the existing flagutil pattern
func NewClient(jiraOptions flagutil.JiraOptions, opts Options) (*Client, error) {
	jiraClient, err := jiraOptions.Client()
	if err != nil {
		return nil, fmt.Errorf("failed to create JIRA client: %w", err)
	}

	return newClient(prowAPI{client: jiraClient}, jiraClient.JiraURL(), opts), nil
}

func newClient(a api, baseURL string, opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		api:            a,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		requestTimeout: opts.RequestTimeout,
		backoff: wait.Backoff{
			Duration: time.Second,
			Factor:   2,
			Jitter:   0.1,
			Steps:    opts.Retries + 1,
		},
		logger: opts.Logger,
	}
}

// call runs fn with a per-attempt timeout, retrying while it fails transiently. The last
// error is returned once attempts are exhausted.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	attempt := 0

	err := wait.ExponentialBackoffWithContext(ctx, c.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		lastErr = fn(callCtx)
		switch {
		case lastErr == nil:
			return true, nil
		case IsTransient(lastErr):
			c.logger.WithError(lastErr).WithFields(logrus.Fields{"op": op, "attempt": attempt}).Debug("Transient tracker failure")
			return false, nil
		default:
			return false, lastErr
		}
	})

	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

// ListIssues returns the issues currently matching the filter, in tracker order
func (c *Client) ListIssues(ctx context.Context, filterID string, maxResults int) ([]storage.Issue, error) {
	jql := fmt.Sprintf("filter = %s", filterID)
	options := &jira.SearchOptions{
		MaxResults: maxResults,
		Fields:     strings.Split(listFields, ","),
	}

	var issues []jira.Issue
	err := c.call(ctx, "search", func(ctx context.Context) error {
		var resp *jira.Response
		var err error
		issues, resp, err = c.api.Search(ctx, jql, options)
		return classify("search", resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues of filter %s: %w", filterID, err)
	}

	result := make([]storage.Issue, 0, len(issues))
	for _, issue := range issues {
		result = append(result, convertIssue(issue))
	}

	return result, nil
}

// GetIssueDetail returns an issue with its comments and changelog. An issue the tracker
// no longer produces is returned as a NotFound detail, not as an error.
func (c *Client) GetIssueDetail(ctx context.Context, key string) (storage.IssueDetail, error) {
	options := &jira.GetQueryOptions{
		Fields: detailFields,
		Expand: "changelog",
	}

	var issue *jira.Issue
	var gone error
	err := c.call(ctx, "issue detail", func(ctx context.Context) error {
		var resp *jira.Response
		var err error
		issue, resp, err = c.api.GetIssue(ctx, key, options)
		if err != nil && isGone(resp) {
			gone = err
			return nil
		}
		return classify("issue detail", resp, err)
	})
	if err != nil {
		return storage.IssueDetail{}, fmt.Errorf("failed to get issue %s: %w", key, err)
	}

	if gone != nil {
		return storage.IssueDetail{
			Issue:         storage.Issue{Key: key},
			NotFound:      true,
			ErrorMessages: errorMessages(gone),
		}, nil
	}
	if issue == nil {
		return storage.IssueDetail{}, &TransientError{Op: "issue detail", Err: errors.New("empty response")}
	}

	detail, err := convertDetail(*issue)
	if err != nil {
		return storage.IssueDetail{}, &TransientError{Op: "issue detail", Err: fmt.Errorf("failed to convert issue %s: %w", key, err)}
	}
	return detail, nil
}

// FilterName looks up the display name of a saved filter
func (c *Client) FilterName(ctx context.Context, filterID string) (string, error) {
	id, err := strconv.Atoi(filterID)
	if err != nil {
		return "", fmt.Errorf("invalid filter ID %q: %w", filterID, err)
	}

	var filter *jira.Filter
	err = c.call(ctx, "filter", func(ctx context.Context) error {
		var resp *jira.Response
		var err error
		filter, resp, err = c.api.GetFilter(ctx, id)
		return classify("filter", resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("failed to get filter %s: %w", filterID, err)
	}
	if filter == nil {
		return "", fmt.Errorf("filter %s not returned", filterID)
	}

	return filter.Name, nil
}

// IssueURL returns the browser link of an issue
func (c *Client) IssueURL(key string) string {
	issueURL, err := url.JoinPath(c.baseURL, "browse", key)
	if err != nil {
		return c.baseURL + "/browse/" + key
	}
	return issueURL
}

// FilterURL returns the browser link listing the issues of a filter
func (c *Client) FilterURL(filterID string) string {
	return c.baseURL + "/issues/?filter=" + url.QueryEscape(filterID)
}

// convertIssue converts a go-jira Issue to our storage Issue
func convertIssue(issue jira.Issue) storage.Issue {
	result := storage.Issue{Key: issue.Key}
	if issue.Fields == nil {
		return result
	}

	result.Summary = issue.Fields.Summary
	if issue.Fields.Status != nil {
		result.Status = issue.Fields.Status.Name
	}
	result.Created = time.Time(issue.Fields.Created)
	result.Updated = time.Time(issue.Fields.Updated)

	return result
}

func convertDetail(issue jira.Issue) (storage.IssueDetail, error) {
	detail := storage.IssueDetail{Issue: convertIssue(issue)}

	if issue.Fields != nil && issue.Fields.Comments != nil {
		for _, comment := range issue.Fields.Comments.Comments {
			if comment == nil {
				continue
			}
			updated, err := time.Parse(timeLayout, comment.Updated)
			if err != nil {
				return storage.IssueDetail{}, fmt.Errorf("cannot parse comment time %q: %w", comment.Updated, err)
			}
			detail.Comments = append(detail.Comments, storage.Comment{
				Updated: updated,
				Author:  userName(comment.Author),
				Body:    comment.Body,
			})
		}
	}

	if issue.Changelog != nil {
		for _, history := range issue.Changelog.Histories {
			created, err := time.Parse(timeLayout, history.Created)
			if err != nil {
				return storage.IssueDetail{}, fmt.Errorf("cannot parse history time %q: %w", history.Created, err)
			}
			entry := storage.HistoryEntry{
				Created: created,
				Author:  userName(history.Author),
			}
			for _, item := range history.Items {
				entry.FieldChanges = append(entry.FieldChanges, storage.FieldChange{
					Field: item.Field,
					From:  item.FromString,
					To:    item.ToString,
				})
			}
			detail.Changes = append(detail.Changes, entry)
		}
	}

	return detail, nil
}

func userName(user jira.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Name
}
