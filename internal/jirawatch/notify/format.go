package notify

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

// Raw text is cut to these lengths before it is escaped and wrapped in markup
const (
	maxSummaryRunes = 300
	maxValueRunes   = 200
	maxCommentRunes = 500
)

// markup renders text fragments in the dialect of one channel
type markup struct {
	escape func(string) string
	bold   func(string) string
	italic func(string) string
	code   func(string) string
	strike func(string) string
	block  func(string) string
	link   func(url, text string) string
}

var plainMarkup = markup{
	escape: func(s string) string { return s },
	bold:   func(s string) string { return s },
	italic: func(s string) string { return s },
	code:   func(s string) string { return s },
	strike: func(s string) string { return s },
	block:  func(s string) string { return s },
	link:   func(_, text string) string { return text },
}

var slackMarkup = markup{
	escape: strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace,
	bold:   func(s string) string { return "*" + s + "*" },
	italic: func(s string) string { return "_" + s + "_" },
	code:   func(s string) string { return "`" + s + "`" },
	strike: func(s string) string { return "~" + s + "~" },
	block:  func(s string) string { return "```" + s + "```" },
	link:   func(url, text string) string { return "<" + url + "|" + text + ">" },
}

var htmlMarkup = markup{
	escape: html.EscapeString,
	bold:   func(s string) string { return "<b>" + s + "</b>" },
	italic: func(s string) string { return "<i>" + s + "</i>" },
	code:   func(s string) string { return "<code>" + s + "</code>" },
	strike: func(s string) string { return "<s>" + s + "</s>" },
	block:  func(s string) string { return "<pre>" + s + "</pre>" },
	link: func(url, text string) string {
		return `<a href="` + html.EscapeString(url) + `">` + text + "</a>"
	},
}

// changeAction names what happened to a field
func changeAction(change storage.FieldChange) string {
	switch {
	case change.From == "" && change.To != "":
		return "added"
	case change.From != "" && change.To == "":
		return "removed"
	default:
		return "changed"
	}
}

func (m markup) fieldChange(author string, change storage.FieldChange) string {
	action := changeAction(change)
	line := fmt.Sprintf("%s %s %s: ", m.italic(m.escape(author)), action, m.italic(m.escape(change.Field)))

	if strings.HasPrefix(strings.ToLower(change.Field), "description") {
		return line + m.italic("see Jira for details")
	}
	switch action {
	case "added":
		return line + m.code(m.value(change.To))
	case "removed":
		return line + m.strike(m.value(change.From))
	default:
		return line + m.strike(m.value(change.From)) + " " + m.escape("->") + " " + m.code(m.value(change.To))
	}
}

func (m markup) value(s string) string {
	return m.escape(truncate(s, maxValueRunes))
}

func (m markup) comment(comment storage.Comment) string {
	return fmt.Sprintf("%s wrote: %s", m.italic(m.escape(comment.Author)), m.block(m.escape(truncate(comment.Body, maxCommentRunes))))
}

func (m markup) issueHeading(links Linker, issue storage.Issue) string {
	heading := m.bold(m.link(links.IssueURL(issue.Key), m.escape(issue.Key)))
	if issue.Status != "" {
		heading += " " + m.italic("("+m.escape(issue.Status)+")")
	}
	return heading
}

// newIssue renders a newly matching issue
func (m markup) newIssue(links Linker, issue storage.Issue) string {
	return m.issueHeading(links, issue) + "\n" + m.escape(truncate(issue.Summary, maxSummaryRunes))
}

// updatedIssue renders what changed in an issue since it was last seen
func (m markup) updatedIssue(links Linker, detail storage.IssueDetail) string {
	return strings.Join(m.updatedIssueLines(links, detail), "\n")
}

// updatedIssueLines renders an updated issue as lines that each carry balanced markup
func (m markup) updatedIssueLines(links Linker, detail storage.IssueDetail) []string {
	if detail.NotFound {
		return []string{
			m.bold(m.link(links.IssueURL(detail.Key), m.escape(detail.Key))),
			m.escape(truncate(notFoundText(detail), maxCommentRunes)),
		}
	}

	lines := []string{m.issueHeading(links, detail.Issue), m.escape(truncate(detail.Summary, maxSummaryRunes))}

	var changes []string
	for _, entry := range detail.Changes {
		for _, change := range entry.FieldChanges {
			changes = append(changes, "- "+m.fieldChange(entry.Author, change))
		}
	}
	if len(changes) > 0 {
		lines = append(lines, m.bold("Changes"))
		lines = append(lines, changes...)
	}

	if len(detail.Comments) > 0 {
		lines = append(lines, m.bold("Comments"))
		for _, comment := range detail.Comments {
			lines = append(lines, m.comment(comment))
		}
	}

	return lines
}

// fitLines joins whole lines while they fit in limit runes and marks what was left out,
// so markup is never cut in the middle of a tag
func fitLines(lines []string, limit int) string {
	const more = "…"

	joined := strings.Join(lines, "\n")
	if utf8.RuneCountInString(joined) <= limit {
		return joined
	}

	var kept []string
	used := utf8.RuneCountInString(more)
	for _, line := range lines {
		length := utf8.RuneCountInString(line) + 1
		if used+length > limit {
			break
		}
		kept = append(kept, line)
		used += length
	}
	return strings.Join(append(kept, more), "\n")
}

func notFoundText(detail storage.IssueDetail) string {
	return fmt.Sprintf("issue information unavailable (%s)", strings.Join(detail.ErrorMessages, ","))
}

func launchText(event Event) string {
	return fmt.Sprintf("Started watching filter %s", event.Label())
}

func terminationText(event Event) string {
	return fmt.Sprintf("Stopped watching filter %s. If you did not stop it, check the logs.", event.Label())
}

func countsText(changes storage.ChangeSet) string {
	return fmt.Sprintf("new %d, updated %d", len(changes.NewIssues), len(changes.UpdatedIssues))
}

// keyList renders issues as "KEY(Status)" joined by commas
func keyList(issues []storage.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, fmt.Sprintf("%s(%s)", issue.Key, issue.Status))
	}
	return strings.Join(parts, ",")
}

func detailIssues(details []storage.IssueDetail) []storage.Issue {
	issues := make([]storage.Issue, 0, len(details))
	for _, detail := range details {
		issues = append(issues, detail.Issue)
	}
	return issues
}

// truncate cuts plain text to at most limit runes, marking the cut. It must not be used on
// rendered markup.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
