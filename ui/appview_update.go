package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"gemchat/chat"
	"gemchat/config"
	"gemchat/model"
)

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return a.handleResize(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
		if a.snapshot.Streaming || a.snapshot.Loading {
			a.refreshViewport()
		}
		return a, cmd

	case snapshotMsg:
		return a.handleSnapshot(msg)

	case markdownRenderedMsg:
		a.rendered[msg.ConversationID] = msg.Rendered
		a.refreshViewport()
		return a, nil

	case identityReadyMsg:
		a.userID = msg.UserID
		a.identityErr = ""
		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] identity ready: %s", msg.UserID)
		}
		return a, nil

	case identityErrorMsg:
		a.identityErr = msg.Err.Error()
		return a, nil

	case subscriptionErrorMsg:
		a.subscriptionErr = msg.Err.Error()
		return a, nil

	case clipboardCopiedMsg:
		if msg.Err != nil {
			a.flash = fmt.Sprintf("copy failed: %v", msg.Err)
		} else {
			a.flash = "response copied"
		}
		return a, flashCmd()

	case reconfiguredMsg:
		return a.handleReconfigured(msg)

	case flashTickMsg:
		a.flash = ""
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a AppView) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	a.width = msg.Width
	a.height = msg.Height

	inputHeight := a.textarea.Height() + 2
	viewportHeight := a.height - inputHeight - 3
	if viewportHeight < 1 {
		viewportHeight = 1
	}
	viewportWidth := a.width - historyPanelWidth - 4
	if viewportWidth < 10 {
		viewportWidth = 10
	}

	if !a.ready {
		a.viewport = viewport.New(viewportWidth, viewportHeight)
		a.ready = true
	} else {
		a.viewport.Width = viewportWidth
		a.viewport.Height = viewportHeight
	}
	a.textarea.SetWidth(a.width - 2)

	// Cached renders are wrapped for the old width.
	a.rendered = make(map[string]string)
	a.refreshViewport()
	return a, a.renderActiveCmd()
}

func (a AppView) handleSnapshot(msg snapshotMsg) (tea.Model, tea.Cmd) {
	snap, ok := msg.Snapshot.(chat.Snapshot)
	if !ok {
		return a, nil
	}
	a.snapshot = snap
	a.clampSelection()
	a.refreshViewport()
	return a, a.renderActiveCmd()
}

func (a AppView) handleReconfigured(msg reconfiguredMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		a.settingsStatus = ErrorStyle.Render(fmt.Sprintf("save failed: %v", msg.Err))
		return a, nil
	}
	a.settingsDirty = false
	a.userID = ""
	a.subscriptionErr = ""
	a.identityErr = ""
	if a.cfg.FirebaseIssue != "" {
		a.settingsStatus = WarningStyle.Render("saved; firebase config: " + a.cfg.FirebaseIssue)
	} else {
		a.settingsStatus = PromptStyle.Render("saved, reconnecting")
	}
	return a, nil
}

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}

	switch a.screen {
	case screenSettings:
		return a.handleSettingsInput(msg)
	case screenDocs:
		return a.handleDocsInput(msg)
	}

	switch msg.String() {
	case "ctrl+s":
		a.screen = screenSettings
		a.settingsFields = newSettingsFields(a.cfg)
		a.selectedSettingIdx = 0
		a.settingsEditMode = false
		a.settingsStatus = ""
		return a, nil

	case "ctrl+g":
		a.screen = screenDocs
		return a, nil

	case "ctrl+t":
		a.taskIdx = (a.taskIdx + 1) % len(model.Tasks)
		return a, nil

	case "ctrl+y":
		return a, a.copyResponseCmd()

	case "ctrl+x":
		a.orch.CancelActive()
		return a, nil

	case "tab":
		if a.focus == focusInput {
			a.focus = focusHistory
			a.textarea.Blur()
			return a, nil
		}
		a.focus = focusInput
		a.filterMode = false
		a.filterInput.Blur()
		return a, a.textarea.Focus()
	}

	if a.focus == focusHistory {
		return a.handleHistoryKey(msg)
	}
	return a.handleInputKey(msg)
}

func (a AppView) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		return a.submit()
	case "esc":
		a.focus = focusHistory
		a.textarea.Blur()
		return a, nil
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

func (a AppView) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.filterMode {
		switch msg.String() {
		case "esc":
			a.filterMode = false
			a.filterInput.Blur()
			a.filterInput.Reset()
			a.clampSelection()
			return a, nil
		case "enter":
			a.filterMode = false
			a.filterInput.Blur()
			return a, nil
		}
		var cmd tea.Cmd
		a.filterInput, cmd = a.filterInput.Update(msg)
		a.clampSelection()
		return a, cmd
	}

	switch msg.String() {
	case "/":
		a.filterMode = true
		return a, a.filterInput.Focus()

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, nil

	case "down", "j":
		if a.selectedIdx < len(a.visibleHistory())-1 {
			a.selectedIdx++
		}
		return a, nil

	case "enter":
		visible := a.visibleHistory()
		if a.selectedIdx < len(visible) {
			a.orch.SelectConversation(visible[a.selectedIdx].ID)
		}
		return a, nil

	case "esc":
		a.focus = focusInput
		return a, a.textarea.Focus()
	}

	// Remaining keys scroll the response view.
	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a AppView) submit() (AppView, tea.Cmd) {
	prompt := strings.TrimSpace(a.textarea.Value())
	if prompt == "" {
		return a, nil
	}

	if err := a.orch.Submit(prompt, model.Tasks[a.taskIdx]); err != nil {
		a.flash = err.Error()
		return a, flashCmd()
	}

	a.textarea.Reset()
	a.selectedIdx = 0
	return a, textarea.Blink
}

func flashCmd() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return flashTickMsg{}
	})
}
