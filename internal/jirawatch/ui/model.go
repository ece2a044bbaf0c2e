package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

const maxVisibleRows = 15

// issueState is how an issue compares to the stored snapshot
type issueState int

const (
	stateUnchanged issueState = iota
	stateNew
	stateUpdated
	stateGone
)

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	} else {
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

// Result is what the inspector displays
type Result struct {
	FilterID    string
	LastSaved   time.Time
	Current     []storage.Issue
	Disappeared []storage.Issue
	Changes     storage.ChangeSet
}

// Model represents the TUI model for displaying a dry-run poll of a filter
type Model struct {
	table           table.Model
	result          Result
	width           int
	height          int
	displayedIssues []storage.Issue // Issues as they appear in the table
	newKeys         map[string]bool
	updated         map[string]storage.IssueDetail
	gone            map[string]bool
}

// NewModel creates a new TUI model
func NewModel(result Result) Model {
	columns := []table.Column{
		{Title: "Key", Width: 10},
		{Title: "Status", Width: 8},
		{Title: "Created", Width: 10},
		{Title: "Last Updated", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(1), // Will be dynamically adjusted based on content
	)

	m := Model{
		table:   t,
		result:  result,
		newKeys: map[string]bool{},
		updated: map[string]storage.IssueDetail{},
		gone:    map[string]bool{},
	}
	for _, issue := range result.Changes.NewIssues {
		m.newKeys[issue.Key] = true
	}
	for _, detail := range result.Changes.UpdatedIssues {
		m.updated[detail.Key] = detail
	}
	for _, issue := range result.Disappeared {
		m.gone[issue.Key] = true
	}

	m.updateTable()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateTableSize()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	m.table, cmd = m.table.Update(msg)
	m.updateSelectionStyle()

	return m, cmd
}

// View renders the model
func (m Model) View() string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)
	s.WriteString(headerStyle.Render(fmt.Sprintf("Filter: %s", m.result.FilterID)))
	s.WriteString("\n")

	if !m.result.LastSaved.IsZero() {
		infoStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
		s.WriteString(infoStyle.Render(fmt.Sprintf("Changes since: %s (%s ago)",
			m.result.LastSaved.Format("2006-01-02 15:04:05"),
			formatDuration(time.Since(m.result.LastSaved)))))
		s.WriteString("\n")
	}

	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("33")).
		MarginTop(1).
		MarginBottom(1)
	s.WriteString(summaryStyle.Render(fmt.Sprintf("Would notify: %d new, %d updated (%d no longer in filter)",
		len(m.result.Changes.NewIssues), len(m.result.Changes.UpdatedIssues), len(m.result.Disappeared))))
	s.WriteString("\n")

	s.WriteString(m.table.View())
	s.WriteString("\n")

	if len(m.displayedIssues) > maxVisibleRows {
		scrollStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
		s.WriteString(scrollStyle.Render(fmt.Sprintf("Showing %d of %d items - use arrow keys to scroll", maxVisibleRows, len(m.displayedIssues))))
		s.WriteString("\n")
	}

	if selected, ok := m.selected(); ok && selected.Summary != "" {
		summaryStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			MarginTop(1)
		s.WriteString(summaryStyle.Render(fmt.Sprintf("Summary: %s", selected.Summary)))
		s.WriteString("\n")
	}

	s.WriteString(m.renderItemStatus())

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		MarginTop(1)
	s.WriteString(helpStyle.Render("Press 'q' to quit, arrow keys to navigate"))

	return s.String()
}

// updateTable fills the table with current issues, most recently updated first, followed
// by issues that left the filter
func (m *Model) updateTable() {
	current := append([]storage.Issue{}, m.result.Current...)
	sort.SliceStable(current, func(i, j int) bool {
		return current[i].Updated.After(current[j].Updated)
	})

	m.displayedIssues = append(current, m.result.Disappeared...)

	var rows []table.Row
	for _, issue := range m.displayedIssues {
		rows = append(rows, issueToRow(issue))
	}
	m.table.SetRows(rows)

	m.updateTableSize()
	m.updateSelectionStyle()
}

func issueToRow(issue storage.Issue) table.Row {
	return table.Row{
		issue.Key,
		issue.Status,
		issue.Created.Format("2006-01-02"),
		issue.Updated.Format("2006-01-02 15:04"),
	}
}

// updateTableSize updates the table size based on terminal dimensions
func (m *Model) updateTableSize() {
	tableHeight := max(min(len(m.displayedIssues), maxVisibleRows)+1, 2)
	m.table.SetHeight(tableHeight)

	if m.width > 0 {
		m.updateColumnWidths()
	}
}

// updateColumnWidths sizes columns to their content and hands spare width to the key column
func (m *Model) updateColumnWidths() {
	widths := []int{len("Key"), len("Status"), len("Created"), len("Last Updated")}
	for _, issue := range m.displayedIssues {
		for i, cell := range issueToRow(issue) {
			widths[i] = max(widths[i], len(cell))
		}
	}

	total := 0
	for i := range widths {
		widths[i] += 4
		total += widths[i]
	}
	if extra := m.width - 10 - total; extra > 0 {
		widths[1] += extra / 2
	}

	m.table.SetColumns([]table.Column{
		{Title: "Key", Width: widths[0]},
		{Title: "Status", Width: widths[1]},
		{Title: "Created", Width: widths[2]},
		{Title: "Last Updated", Width: widths[3]},
	})
}

func (m *Model) selected() (storage.Issue, bool) {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.displayedIssues) {
		return storage.Issue{}, false
	}
	return m.displayedIssues[cursor], true
}

func (m *Model) state(issue storage.Issue) issueState {
	switch {
	case m.newKeys[issue.Key]:
		return stateNew
	case m.updated[issue.Key].Key != "":
		return stateUpdated
	case m.gone[issue.Key]:
		return stateGone
	default:
		return stateUnchanged
	}
}

// renderItemStatus creates a status panel for the selected item
func (m *Model) renderItemStatus() string {
	selected, ok := m.selected()
	if !ok {
		return ""
	}

	var s strings.Builder
	switch m.state(selected) {
	case stateNew:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true).Render("NEW ISSUE"))
		s.WriteString("\n")
	case stateUpdated:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true).Render("UPDATED ISSUE"))
		s.WriteString("\n")
		s.WriteString(describeDetail(m.updated[selected.Key]))
	case stateGone:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true).Render("NO LONGER IN FILTER"))
		s.WriteString("\n")
	default:
		s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Render("UNCHANGED ISSUE"))
		s.WriteString("\n")
	}

	return s.String()
}

// describeDetail lists the changes and comments that would be reported for an issue
func describeDetail(detail storage.IssueDetail) string {
	if detail.NotFound {
		return fmt.Sprintf("  • issue information unavailable (%s)\n", strings.Join(detail.ErrorMessages, ","))
	}

	var s strings.Builder
	for _, entry := range detail.Changes {
		for _, change := range entry.FieldChanges {
			s.WriteString(fmt.Sprintf("  • %s changed %s from '%s' to '%s'\n", entry.Author, change.Field, change.From, change.To))
		}
	}
	for _, comment := range detail.Comments {
		s.WriteString(fmt.Sprintf("  • %s commented at %s\n", comment.Author, comment.Updated.Format("2006-01-02 15:04")))
	}
	return s.String()
}

// updateSelectionStyle updates the table's selection style based on the selected item's status
func (m *Model) updateSelectionStyle() {
	selected, ok := m.selected()
	if !ok {
		return
	}

	var backgroundColor lipgloss.Color
	switch m.state(selected) {
	case stateNew:
		backgroundColor = lipgloss.Color("22") // Dark green
	case stateUpdated:
		backgroundColor = lipgloss.Color("130") // Dark yellow/orange
	case stateGone:
		backgroundColor = lipgloss.Color("52") // Dark red
	default:
		backgroundColor = lipgloss.Color("240") // Grey
	}

	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("230")).
		Background(backgroundColor).
		Bold(true)
	m.table.SetStyles(styles)
}
