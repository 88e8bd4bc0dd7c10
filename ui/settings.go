package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gemchat/config"
)

type settingField struct {
	label string
	value string
	hint  string
}

func newSettingsFields(cfg *config.Config) []settingField {
	return []settingField{
		{
			label: "Worker URL",
			value: cfg.WorkerURL,
			hint:  "streaming endpoint, e.g. https://gemini-worker.example.workers.dev",
		},
		{
			label: "Firebase config",
			value: cfg.FirebaseConfigPath,
			hint:  "path to the firebase JSON file (apiKey and projectId required)",
		},
	}
}

func (a AppView) handleSettingsInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.settingsEditMode {
		switch msg.String() {
		case "esc":
			a.settingsEditMode = false
			a.settingsEditInput.Blur()
			return a, nil
		case "enter":
			a.settingsFields[a.selectedSettingIdx].value = strings.TrimSpace(a.settingsEditInput.Value())
			a.settingsEditMode = false
			a.settingsEditInput.Blur()
			a.settingsDirty = true
			a.settingsStatus = ""
			return a, nil
		}
		var cmd tea.Cmd
		a.settingsEditInput, cmd = a.settingsEditInput.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "esc", "q":
		a.screen = screenChat
		return a, nil

	case "up", "k":
		if a.selectedSettingIdx > 0 {
			a.selectedSettingIdx--
		}
		return a, nil

	case "down", "j":
		if a.selectedSettingIdx < len(a.settingsFields)-1 {
			a.selectedSettingIdx++
		}
		return a, nil

	case "enter":
		a.settingsEditMode = true
		a.settingsEditInput.SetValue(a.settingsFields[a.selectedSettingIdx].value)
		a.settingsEditInput.CursorEnd()
		return a, a.settingsEditInput.Focus()

	case "w":
		return a.writeSampleFirebaseConfig()

	case "ctrl+s":
		return a.saveSettings()
	}

	return a, nil
}

// writeSampleFirebaseConfig drops a template at the configured path so
// the user only has to paste values from the Firebase console.
func (a AppView) writeSampleFirebaseConfig() (tea.Model, tea.Cmd) {
	path := a.settingsFields[1].value
	if path == "" {
		path = filepath.Join(a.cfg.DataDir(), "firebase.json")
		a.settingsFields[1].value = path
	}
	path = config.ExpandPath(path)

	if config.FileExists(path) {
		a.settingsStatus = WarningStyle.Render("file already exists: " + path)
		return a, nil
	}
	if err := os.WriteFile(path, []byte(config.SampleFirebaseConfig()), 0600); err != nil {
		a.settingsStatus = ErrorStyle.Render(fmt.Sprintf("write failed: %v", err))
		return a, nil
	}
	a.settingsStatus = PromptStyle.Render("sample written to " + path)
	return a, nil
}

func (a AppView) saveSettings() (tea.Model, tea.Cmd) {
	a.cfg.WorkerURL = a.settingsFields[0].value
	a.cfg.FirebaseConfigPath = a.settingsFields[1].value
	if a.cfg.FirebaseConfigPath == "" {
		a.cfg.FirebaseConfigPath = filepath.Join(a.cfg.DataDir(), "firebase.json")
	}

	userCfg := &config.UserConfig{
		WorkerURL:          a.settingsFields[0].value,
		FirebaseConfigPath: a.settingsFields[1].value,
	}
	cfg := a.cfg
	reconfigure := a.reconfigure

	a.settingsStatus = DimStyle.Render("saving...")
	return a, func() tea.Msg {
		if err := config.SaveUserConfig(userCfg, cfg.DataDir()); err != nil {
			return reconfiguredMsg{Err: err}
		}
		cfg.ReloadFirebase()
		if reconfigure != nil {
			if err := reconfigure(); err != nil {
				return reconfiguredMsg{Err: err}
			}
		}
		return reconfiguredMsg{}
	}
}

func (a AppView) renderSettings() string {
	title := TitleStyle.Render("Settings")

	var rows []string
	for i, field := range a.settingsFields {
		cursor := "  "
		label := field.label
		if i == a.selectedSettingIdx {
			cursor = SelectedStyle.Render("> ")
			label = SelectedStyle.Render(field.label)
		}

		value := field.value
		if value == "" {
			value = DimStyle.Render("(not set)")
		}
		if a.settingsEditMode && i == a.selectedSettingIdx {
			value = a.settingsEditInput.View()
		}

		rows = append(rows, fmt.Sprintf("%s%-16s %s", cursor, label, value))
		rows = append(rows, "  "+DimStyle.Render(field.hint))
		rows = append(rows, "")
	}

	var validation string
	switch {
	case a.cfg.StoreReady():
		validation = PromptStyle.Render("firebase config OK: " + a.cfg.Firebase.ProjectID)
	case a.cfg.FirebaseIssue != "":
		validation = WarningStyle.Render(a.cfg.FirebaseIssue)
	}

	dirty := ""
	if a.settingsDirty {
		dirty = WarningStyle.Render("unsaved changes")
	}

	footer := FormatFooter(
		"j/k", "Navigate", "Enter", "Edit", "w", "Write sample firebase config",
		"Ctrl+S", "Save", "Esc", "Back",
	)

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		strings.Join(rows, "\n"),
		validation,
		a.settingsStatus,
		dirty,
		"",
		footer,
	)

	box := lipgloss.NewStyle().Padding(1, 2)
	return lipgloss.Place(a.width, a.height, lipgloss.Left, lipgloss.Top, box.Render(content))
}
