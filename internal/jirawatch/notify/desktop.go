package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

// runner executes an external command
type runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (%s)", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// desktopNotification is one native notification
type desktopNotification struct {
	title    string
	subtitle string
	message  string
	url      string
}

// DesktopChannel shows native notifications: terminal-notifier on macOS, notify-send on Linux
type DesktopChannel struct {
	goos     string
	browser  string
	links    Linker
	lookPath func(string) (string, error)
	run      runner
}

// NewDesktopChannel creates a desktop channel. On macOS links open in browser when set.
func NewDesktopChannel(browser string, links Linker) *DesktopChannel {
	return &DesktopChannel{
		goos:     runtime.GOOS,
		browser:  browser,
		links:    links,
		lookPath: exec.LookPath,
		run:      execRunner,
	}
}

func (c *DesktopChannel) Name() string { return "desktop" }

func (c *DesktopChannel) Send(ctx context.Context, event Event) error {
	command, err := c.command()
	if err != nil {
		return err
	}

	notification := c.notification(event)
	return c.run(ctx, command, c.args(notification)...)
}

func (c *DesktopChannel) command() (string, error) {
	var command string
	switch c.goos {
	case "darwin":
		command = "terminal-notifier"
	case "linux":
		command = "notify-send"
	default:
		return "", ErrNotConfigured
	}

	path, err := c.lookPath(command)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", command, ErrNotConfigured)
	}
	return path, nil
}

func (c *DesktopChannel) args(n desktopNotification) []string {
	if c.goos != "darwin" {
		body := n.message
		if n.subtitle != "" {
			body = n.subtitle + "\n" + body
		}
		return []string{"--app-name=jira-notify", n.title, body + "\n" + n.url}
	}

	// A leading bracket must be escaped or terminal-notifier drops the message
	message := n.message
	if strings.HasPrefix(message, "[") {
		message = `\` + message
	}
	args := []string{"-sound", "default", "-title", n.title, "-subtitle", n.subtitle, "-message", message}
	if c.browser != "" {
		args = append(args, "-execute", "open -a "+shellQuote(c.browser)+" "+shellQuote(n.url))
	} else {
		args = append(args, "-open", n.url)
	}
	return args
}

// shellQuote quotes s as a single POSIX shell word
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// notification picks single-issue phrasing when exactly one issue is involved and a key
// list pointing at the filter otherwise
func (c *DesktopChannel) notification(event Event) desktopNotification {
	filterURL := c.links.FilterURL(event.FilterID)
	changes := event.Changes

	switch event.Kind {
	case KindLaunch:
		return desktopNotification{title: "Jira watch started " + event.Version, message: launchText(event), url: filterURL}
	case KindTermination:
		return desktopNotification{title: "Jira watch stopped " + event.Version, message: terminationText(event), url: filterURL}
	}

	switch {
	case len(changes.UpdatedIssues) == 0 && len(changes.NewIssues) == 1:
		issue := changes.NewIssues[0]
		return desktopNotification{
			title:    fmt.Sprintf("New issue (%s)", issue.Key),
			subtitle: issue.Status,
			message:  issue.Summary,
			url:      c.links.IssueURL(issue.Key),
		}
	case len(changes.UpdatedIssues) == 0:
		return desktopNotification{
			title:   fmt.Sprintf("New issues (%d)", len(changes.NewIssues)),
			message: keyList(changes.NewIssues),
			url:     filterURL,
		}
	case len(changes.NewIssues) == 0 && len(changes.UpdatedIssues) == 1:
		detail := changes.UpdatedIssues[0]
		return desktopNotification{
			title:    fmt.Sprintf("Issue updated (%s)", detail.Key),
			subtitle: detail.Status,
			message:  plainSummary(detail),
			url:      c.links.IssueURL(detail.Key),
		}
	case len(changes.NewIssues) == 0:
		return desktopNotification{
			title:   fmt.Sprintf("Issues updated (%d)", len(changes.UpdatedIssues)),
			message: keyList(detailIssues(changes.UpdatedIssues)),
			url:     filterURL,
		}
	default:
		return desktopNotification{
			title:   fmt.Sprintf("New issues (%d) / updated issues (%d)", len(changes.NewIssues), len(changes.UpdatedIssues)),
			message: keyList(append(append([]storage.Issue{}, changes.NewIssues...), detailIssues(changes.UpdatedIssues)...)),
			url:     filterURL,
		}
	}
}

// plainSummary flattens the changes and comments of one issue into a single line
func plainSummary(detail storage.IssueDetail) string {
	if detail.NotFound {
		return detail.Key + " " + notFoundText(detail)
	}

	var parts []string
	for _, entry := range detail.Changes {
		for _, change := range entry.FieldChanges {
			parts = append(parts, plainMarkup.fieldChange(entry.Author, change))
		}
	}
	for _, comment := range detail.Comments {
		parts = append(parts, plainMarkup.comment(comment))
	}
	return strings.Join(parts, ",")
}
