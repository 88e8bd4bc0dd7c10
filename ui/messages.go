package ui

import (
	"gemchat/model"
)

// Message type aliases - the backend goroutines post these through the
// bubbletea program.
type snapshotMsg = model.SnapshotMsg
type identityReadyMsg = model.IdentityReadyMsg
type identityErrorMsg = model.IdentityErrorMsg
type subscriptionErrorMsg = model.SubscriptionErrorMsg
type markdownRenderedMsg = model.MarkdownRenderedMsg
type clipboardCopiedMsg = model.ClipboardCopiedMsg
type reconfiguredMsg = model.ReconfiguredMsg
type flashTickMsg = model.FlashTickMsg
