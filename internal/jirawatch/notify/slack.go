package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// slackMaxBlocks is the number of blocks Slack accepts in one message
	slackMaxBlocks = 50
	// slackMaxSectionText is the character limit of a section text
	slackMaxSectionText = 3000
)

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func section(lines ...string) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fitLines(lines, slackMaxSectionText)}}
}

// SlackChannel posts Block Kit messages to an incoming webhook
type SlackChannel struct {
	webhookURL string
	links      Linker
	client     *http.Client
	limiter    *rate.Limiter
}

// NewSlackChannel creates a Slack channel. An empty webhook URL leaves it unconfigured.
func NewSlackChannel(webhookURL string, links Linker) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		links:      links,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, event Event) error {
	if c.webhookURL == "" {
		return ErrNotConfigured
	}

	for _, message := range c.messages(event) {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
		if err := c.post(ctx, message); err != nil {
			return err
		}
	}

	return nil
}

func (c *SlackChannel) messages(event Event) []slackMessage {
	m := slackMarkup
	filterLink := m.link(c.links.FilterURL(event.FilterID), m.escape(event.Label()))

	switch event.Kind {
	case KindLaunch:
		text := launchText(event)
		return []slackMessage{{Text: text, Blocks: []slackBlock{section(m.bold("jira-notify") + " " + event.Version + "\nStarted watching filter " + filterLink)}}}
	case KindTermination:
		text := terminationText(event)
		return []slackMessage{{Text: text, Blocks: []slackBlock{section(m.bold("jira-notify") + " " + event.Version + "\nStopped watching filter " + filterLink)}}}
	}

	changes := event.Changes
	title := fmt.Sprintf("jira-notify: %s (%s)", event.Label(), countsText(changes))

	var sections []slackBlock
	for i, issue := range changes.NewIssues {
		sections = append(sections, section("> "+m.bold(fmt.Sprintf("New issue (%d/%d)", i+1, len(changes.NewIssues))), m.newIssue(c.links, issue)))
	}
	for i, detail := range changes.UpdatedIssues {
		heading := "> " + m.bold(fmt.Sprintf("Updated issue (%d/%d)", i+1, len(changes.UpdatedIssues)))
		sections = append(sections, section(append([]string{heading}, m.updatedIssueLines(c.links, detail)...)...))
	}

	header := section(fmt.Sprintf("> :ladybug: %s in %s", m.bold(countsText(changes)), filterLink))

	perMessage := slackMaxBlocks - 1
	var messages []slackMessage
	for start := 0; ; start += perMessage {
		end := min(start+perMessage, len(sections))
		blocks := append([]slackBlock{header}, sections[start:end]...)
		messages = append(messages, slackMessage{Text: title, Blocks: blocks})
		if end == len(sections) {
			break
		}
	}

	return messages
}

func (c *SlackChannel) post(ctx context.Context, message slackMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}
