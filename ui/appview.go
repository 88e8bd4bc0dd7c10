package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"gemchat/chat"
	"gemchat/config"
	"gemchat/model"
)

type screenKind int

const (
	screenChat screenKind = iota
	screenSettings
	screenDocs
)

type focusArea int

const (
	focusInput focusArea = iota
	focusHistory
)

const historyPanelWidth = 34

type AppView struct {
	cfg  *config.Config
	orch *chat.Orchestrator

	// reconfigure rebuilds the backend after a settings save.
	reconfigure func() error

	// UI components
	viewport       viewport.Model
	textarea       textarea.Model
	loadingSpinner spinner.Model
	filterInput    textinput.Model

	// Window state
	width  int
	height int
	ready  bool

	// Latest orchestrator snapshot; the single source of truth for the
	// history panel and the response view.
	snapshot chat.Snapshot

	// Rendered markdown per conversation id. Streaming text is shown raw;
	// a record is rendered once its response is complete.
	rendered map[string]string

	screen  screenKind
	focus   focusArea
	taskIdx int

	// History panel state
	filterMode  bool
	selectedIdx int

	// Backend status
	userID          string
	identityErr     string
	subscriptionErr string

	// Transient status line notice
	flash string

	// Settings screen state
	settingsFields     []settingField
	selectedSettingIdx int
	settingsEditMode   bool
	settingsEditInput  textinput.Model
	settingsStatus     string
	settingsDirty      bool
}

func NewAppView(cfg *config.Config, orch *chat.Orchestrator, reconfigure func() error) AppView {
	ta := textarea.New()
	ta.Placeholder = "Describe what you need..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ResponseStyle

	fi := textinput.New()
	fi.Placeholder = "filter history"
	fi.CharLimit = 64

	ei := textinput.New()
	ei.CharLimit = 512

	return AppView{
		cfg:               cfg,
		orch:              orch,
		reconfigure:       reconfigure,
		textarea:          ta,
		loadingSpinner:    sp,
		filterInput:       fi,
		settingsEditInput: ei,
		snapshot:          orch.Snapshot(),
		rendered:          make(map[string]string),
		settingsFields:    newSettingsFields(cfg),
	}
}

func (a AppView) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, a.loadingSpinner.Tick)
}

// activeRecord resolves the conversation the response view shows: the
// explicitly selected one, falling back to the newest.
func (a AppView) activeRecord() (model.Conversation, bool) {
	history := a.snapshot.History
	if len(history) == 0 {
		return model.Conversation{}, false
	}
	if a.snapshot.ActiveID != "" {
		for _, c := range history {
			if c.ID == a.snapshot.ActiveID {
				return c, true
			}
		}
	}
	return history[0], true
}

// visibleHistory applies the fuzzy filter to the history panel.
func (a AppView) visibleHistory() []model.Conversation {
	list := a.snapshot.History
	filter := strings.TrimSpace(a.filterInput.Value())
	if filter == "" {
		return list
	}

	targets := make([]string, len(list))
	for i, c := range list {
		targets[i] = c.Prompt
	}

	matches := fuzzy.Find(filter, targets)
	filtered := make([]model.Conversation, len(matches))
	for i, match := range matches {
		filtered[i] = list[match.Index]
	}
	return filtered
}

func (a *AppView) clampSelection() {
	visible := a.visibleHistory()
	if a.selectedIdx >= len(visible) {
		a.selectedIdx = len(visible) - 1
	}
	if a.selectedIdx < 0 {
		a.selectedIdx = 0
	}
}
