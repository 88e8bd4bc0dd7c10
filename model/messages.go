package model

// Bubbletea messages delivered to the UI by the backend goroutines.

// SnapshotMsg carries a fresh orchestrator snapshot. The payload is kept
// as any to avoid an import cycle with the chat package; the UI asserts
// it back to chat.Snapshot.
type SnapshotMsg struct {
	Snapshot any
}

// IdentityReadyMsg fires once the anonymous identity is resolved.
type IdentityReadyMsg struct {
	UserID string
}

// IdentityErrorMsg fires when identity resolution fails. The app stays up
// but cannot submit until the configuration changes.
type IdentityErrorMsg struct {
	Err error
}

// SubscriptionErrorMsg fires when the store subscription terminates
// abnormally (auth revoked, connection lost).
type SubscriptionErrorMsg struct {
	Err error
}

// MarkdownRenderedMsg carries an asynchronously rendered response body.
type MarkdownRenderedMsg struct {
	ConversationID string
	Rendered       string
}

// ClipboardCopiedMsg reports the outcome of a copy-to-clipboard request.
type ClipboardCopiedMsg struct {
	Err error
}

// ReconfiguredMsg reports the outcome of applying edited settings.
type ReconfiguredMsg struct {
	Err error
}

// FlashTickMsg clears transient status line notices.
type FlashTickMsg struct{}
