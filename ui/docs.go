package ui

import (
	markdown "github.com/MichaelMure/go-term-markdown"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const docsText = `# Setup

gemchat needs two external pieces: a streaming worker endpoint and a
Firebase Realtime Database.

## 1. Worker endpoint

The worker accepts a JSON POST with a prompt and a task type and streams
plain text back. Set its URL in Settings (Ctrl+S) or with the
GEMCHAT_WORKER_URL environment variable.

## 2. Firebase project

Create a project in the Firebase console, then:

- Enable **Anonymous** sign-in under Authentication > Sign-in method.
- Create a **Realtime Database** and allow authenticated reads/writes
  under /history/$uid.
- Copy the web app config JSON into the file named in Settings
  (press "w" there to write a template). Only apiKey and projectId are
  required; the database URL is derived from the project id when absent.

Conversations are kept per anonymous identity. The identity is created on
first launch and cached in the data directory, so history survives
restarts on the same machine.

## 3. Environment variables

- GEMCHAT_WORKER_URL      overrides the worker endpoint
- GEMCHAT_DATA_DIR        overrides the data directory
- GEMCHAT_FIREBASE_CONFIG overrides the firebase config path
- GEMCHAT_DEBUG=1         writes debug.log into the data directory

## Keys

Enter sends, Ctrl+T cycles the task type, Tab switches between the input
and the history panel, "/" filters history, Ctrl+Y copies the shown
response, Ctrl+X cancels a running generation.
`

func (a AppView) handleDocsInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "ctrl+g":
		a.screen = screenChat
		return a, nil
	}
	return a, nil
}

func (a AppView) renderDocs() string {
	width := a.width - 8
	if width > 96 {
		width = 96
	}
	if width < 20 {
		width = 20
	}

	body := string(markdown.Render(docsText, width, 2))
	footer := DimStyle.Render("Press Esc to return")

	content := lipgloss.JoinVertical(lipgloss.Left, body, footer)
	return lipgloss.Place(a.width, a.height, lipgloss.Left, lipgloss.Top, content)
}
