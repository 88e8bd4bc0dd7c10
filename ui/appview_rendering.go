package ui

import (
	"fmt"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mattn/go-runewidth"

	"gemchat/model"
)

func (a AppView) View() string {
	if !a.ready {
		return "Initializing..."
	}

	switch a.screen {
	case screenSettings:
		return a.renderSettings()
	case screenDocs:
		return a.renderDocs()
	}

	body := lipgloss.JoinHorizontal(
		lipgloss.Top,
		a.renderHistoryPanel(),
		"  ",
		a.viewport.View(),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		body,
		a.textarea.View(),
		a.statusLine(),
	)
}

// refreshViewport rebuilds the response view from the active record.
// Streaming text is shown raw with a block cursor; finished responses
// come from the markdown cache.
func (a *AppView) refreshViewport() {
	if !a.ready {
		return
	}

	rec, ok := a.activeRecord()
	if !ok {
		a.viewport.SetContent(DimStyle.Render("No conversations yet. Type a prompt and press Enter."))
		return
	}

	var content strings.Builder

	badge := BadgeStyle.Render("[" + rec.Task.Label() + "]")
	timestamp := DimStyle.Render(rec.Timestamp.Format("[Jan 2 15:04]"))
	content.WriteString(fmt.Sprintf("%s %s %s\n\n", badge, timestamp, PromptStyle.Render(rec.Prompt)))

	for _, warning := range rec.Warnings {
		content.WriteString(WarningStyle.Render("⚠ "+warning) + "\n")
	}
	if len(rec.Warnings) > 0 {
		content.WriteString("\n")
	}

	switch {
	case rec.Response.Status == model.StatusError:
		content.WriteString(ErrorStyle.Render("✗ " + rec.Response.Content))

	case a.snapshot.Streaming && model.IsTempID(rec.ID):
		if rec.Response.Content == "" {
			content.WriteString(fmt.Sprintf("%s %s", a.loadingSpinner.View(), DimStyle.Render("waiting for response...")))
		} else {
			content.WriteString(rec.Response.Content + "▋")
		}

	default:
		if rendered, done := a.rendered[rec.ID]; done {
			content.WriteString(rendered)
		} else {
			content.WriteString(rec.Response.Content)
		}
	}

	a.viewport.SetContent(content.String())
	if a.snapshot.Streaming {
		a.viewport.GotoBottom()
	}
}

func (a AppView) renderHistoryPanel() string {
	panelStyle := lipgloss.NewStyle().Width(historyPanelWidth)

	var lines []string
	if a.filterMode || a.filterInput.Value() != "" {
		lines = append(lines, a.filterInput.View())
	} else {
		lines = append(lines, TitleStyle.Render("History"))
	}

	visible := a.visibleHistory()
	if len(visible) == 0 {
		lines = append(lines, DimStyle.Render("(empty)"))
		return panelStyle.Height(a.viewport.Height).Render(strings.Join(lines, "\n"))
	}

	maxRows := a.viewport.Height - 1
	if maxRows < 1 {
		maxRows = 1
	}
	start := 0
	if a.selectedIdx >= maxRows {
		start = a.selectedIdx - maxRows + 1
	}
	end := start + maxRows
	if end > len(visible) {
		end = len(visible)
	}

	for i := start; i < end; i++ {
		lines = append(lines, a.renderHistoryLine(visible[i], i))
	}

	return panelStyle.Height(a.viewport.Height).Render(strings.Join(lines, "\n"))
}

func (a AppView) renderHistoryLine(c model.Conversation, idx int) string {
	badge := "[" + c.Task.Label() + "]"
	when := c.Timestamp.Format("15:04")

	promptWidth := historyPanelWidth - runewidth.StringWidth(badge) - len(when) - 5
	if promptWidth < 4 {
		promptWidth = 4
	}
	prompt := strings.ReplaceAll(c.Prompt, "\n", " ")
	prompt = runewidth.Truncate(prompt, promptWidth, "…")

	marker := " "
	if c.ID == a.snapshot.ActiveID {
		marker = "●"
	}
	if c.Response.Status == model.StatusError {
		marker = ErrorStyle.Render("!")
	}

	line := fmt.Sprintf("%s%s %s %s", marker, BadgeStyle.Render(badge), prompt, DimStyle.Render(when))
	if a.focus == focusHistory && idx == a.selectedIdx {
		return SelectedStyle.Render(fmt.Sprintf("%s%s %s %s", marker, badge, prompt, when))
	}
	return line
}

func (a AppView) statusLine() string {
	if a.flash != "" {
		return WarningStyle.Render(a.flash)
	}

	check := func(ok bool, label string) string {
		if ok {
			return PromptStyle.Render(label + " ✓")
		}
		return DimStyle.Render(label + " ✗")
	}

	identity := check(a.userID != "", "identity")
	if a.identityErr != "" {
		identity = ErrorStyle.Render("identity ✗")
	}

	status := fmt.Sprintf("%s  %s  %s  %s",
		BadgeStyle.Render("task: "+model.Tasks[a.taskIdx].Label()),
		check(a.cfg.StreamReady(), "worker"),
		check(a.cfg.StoreReady(), "store"),
		identity,
	)
	if a.subscriptionErr != "" {
		status += "  " + ErrorStyle.Render("history offline")
	}

	hints := FormatFooter(
		"Enter", "Send", "Ctrl+T", "Task", "Tab", "Panel",
		"Ctrl+Y", "Copy", "Ctrl+X", "Cancel", "Ctrl+S", "Settings", "Ctrl+G", "Docs",
	)
	return StatusJoin(status, hints, a.width)
}

// StatusJoin left-aligns status and right-aligns hints on one line.
func StatusJoin(left, right string, width int) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 2 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

// renderActiveCmd renders the active record's markdown off the update
// loop once its response is complete.
func (a AppView) renderActiveCmd() tea.Cmd {
	rec, ok := a.activeRecord()
	if !ok || rec.Response.Status != model.StatusOK || rec.Response.Content == "" {
		return nil
	}
	if a.snapshot.Streaming && model.IsTempID(rec.ID) {
		return nil
	}
	if _, done := a.rendered[rec.ID]; done {
		return nil
	}

	id, content, width := rec.ID, rec.Response.Content, a.viewport.Width
	return func() tea.Msg {
		return markdownRenderedMsg{ConversationID: id, Rendered: renderMarkdown(content, width)}
	}
}

func renderMarkdown(content string, width int) string {
	if width < 20 {
		width = 20
	}

	// Autolink is disabled so URLs stay plain text and the terminal
	// emulator handles link detection.
	extensions := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(extensions)
	r := markdown.NewRenderer(width-2, 0)
	doc := p.Parse([]byte(content))
	return string(gomarkdown.Render(doc, r))
}

func (a AppView) copyResponseCmd() tea.Cmd {
	rec, ok := a.activeRecord()
	if !ok || rec.Response.Content == "" {
		return nil
	}

	content := rec.Response.Content
	return func() tea.Msg {
		return clipboardCopiedMsg{Err: clipboard.WriteAll(content)}
	}
}
