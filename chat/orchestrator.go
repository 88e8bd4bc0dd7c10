// Package chat coordinates one conversation lifecycle at a time: submit
// a prompt, fold streamed chunks into a provisional record, persist the
// finished record, and reconcile the provisional id with the
// store-assigned one.
//
// The orchestrator owns the in-memory history: the persisted portion is
// whatever the store subscription last delivered, and local-only records
// (the in-flight provisional plus any errored conversations) stay
// layered on top until the store echo takes over. Consumers never mutate
// history; they receive immutable snapshots.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gemchat/model"
	"gemchat/scan"
	"gemchat/stream"
)

// State is the orchestrator's submission state machine.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy rejects a submission while another is in flight.
	// Submissions are never queued.
	ErrBusy = errors.New("a submission is already in flight")

	// ErrNotConfigured rejects a submission while the backend is not
	// fully wired (worker URL, store, identity).
	ErrNotConfigured = errors.New("not configured")
)

// Streamer is the stream client seam.
type Streamer interface {
	Stream(ctx context.Context, payload stream.Payload, cb stream.Callbacks)
}

// Appender is the history store seam; the adapter assigns the key and
// the timestamp.
type Appender interface {
	Append(ctx context.Context, uid string, conv model.Conversation) (string, error)
}

// Snapshot is the orchestrator's published state. History is a fresh
// slice of record values on every publish; consumers may hold it
// indefinitely.
type Snapshot struct {
	History   []model.Conversation
	ActiveID  string
	State     State
	Loading   bool
	Streaming bool
}

// Orchestrator is safe for concurrent use; stream callbacks, store
// snapshots and UI calls all serialize on one mutex. notify calls are
// serialized on their own mutex so snapshots arrive in the order their
// state was built; the newest delivery always carries the newest state.
type Orchestrator struct {
	notify func(Snapshot)

	// publishMu spans snapshot build plus notify. Without it two
	// publishers could build in one order and deliver in the other,
	// leaving a stale snapshot as the last one seen.
	publishMu sync.Mutex

	mu        sync.Mutex
	streamer  Streamer
	store     Appender
	userID    string
	local     []model.Conversation // provisional + errored, newest first
	persisted []model.Conversation // last store snapshot, newest first
	activeID  string
	busy      bool
	loading   bool
	streaming bool
	state     State
	cancel    context.CancelFunc
}

// New creates an orchestrator. notify receives every published snapshot;
// it may be nil.
func New(notify func(Snapshot)) *Orchestrator {
	return &Orchestrator{notify: notify}
}

// Configure wires (or re-wires) the backend. Any previous history state
// and identity belong to the old configuration and are dropped; an
// in-flight stream keeps running but finds its record gone and aborts
// finalization.
func (o *Orchestrator) Configure(streamer Streamer, store Appender) {
	o.mu.Lock()
	o.streamer = streamer
	o.store = store
	o.userID = ""
	o.local = nil
	o.persisted = nil
	o.activeID = ""
	o.mu.Unlock()
	o.publish()
}

// SetIdentity records the resolved identity id.
func (o *Orchestrator) SetIdentity(uid string) {
	o.mu.Lock()
	o.userID = uid
	o.mu.Unlock()
}

// Ready reports whether a submission would pass the configuration
// preconditions.
func (o *Orchestrator) Ready() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readyLocked()
}

func (o *Orchestrator) readyLocked() error {
	if o.streamer == nil {
		return fmt.Errorf("%w: worker URL is not set", ErrNotConfigured)
	}
	if o.store == nil {
		return fmt.Errorf("%w: history store is not available", ErrNotConfigured)
	}
	if o.userID == "" {
		return fmt.Errorf("%w: identity is not resolved yet", ErrNotConfigured)
	}
	return nil
}

// Submit starts one conversation. The provisional record is visible in
// the published history before Submit returns; the stream then runs on
// its own goroutine. Rejections (configuration, busy) leave all state
// untouched.
func (o *Orchestrator) Submit(prompt string, task model.TaskType) error {
	o.mu.Lock()
	if err := o.readyLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}

	conv := model.Conversation{
		ID:        model.NewTempID(),
		Prompt:    prompt,
		Task:      task,
		Response:  model.Response{Status: model.StatusOK},
		Timestamp: time.Now(),
		Warnings:  scan.Scan(prompt),
	}

	o.local = append([]model.Conversation{conv}, o.local...)
	o.busy = true
	o.loading = true
	o.streaming = true
	o.state = StateSubmitting
	o.activeID = conv.ID

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	streamer := o.streamer
	o.mu.Unlock()

	o.publish()

	go streamer.Stream(ctx, stream.Payload{Prompt: prompt, Task: string(task)}, stream.Callbacks{
		OnUpdate:   func(chunk string) { o.fold(conv.ID, chunk) },
		OnComplete: func() { o.finalize(ctx, conv.ID) },
		OnError:    func(err error) { o.fail(conv.ID, err) },
	})

	return nil
}

// fold appends one chunk to the provisional record. Chunks arrive
// sequentially from the stream goroutine, so content is a strict append
// sequence in arrival order.
func (o *Orchestrator) fold(tempID, chunk string) {
	o.mu.Lock()
	idx := o.findLocalLocked(tempID)
	if idx < 0 || o.local[idx].Response.Status != model.StatusOK {
		o.mu.Unlock()
		return
	}
	o.local[idx].Response.Content += chunk
	o.state = StateStreaming
	o.mu.Unlock()
	o.publish()
}

// finalize persists the completed record and rebinds its id to the
// store-assigned key. A record that vanished from local state (history
// reset by reconfiguration) aborts silently.
func (o *Orchestrator) finalize(ctx context.Context, tempID string) {
	o.mu.Lock()
	idx := o.findLocalLocked(tempID)
	if idx < 0 || o.store == nil {
		o.endLocked()
		o.mu.Unlock()
		o.publish()
		return
	}
	o.state = StateFinalizing
	o.loading = false
	o.streaming = false
	conv := o.local[idx]
	store, uid := o.store, o.userID
	o.mu.Unlock()
	o.publish()

	assigned, err := store.Append(ctx, uid, conv)

	o.mu.Lock()
	idx = o.findLocalLocked(tempID)
	if idx >= 0 {
		if err != nil {
			o.local[idx].Response = model.Response{
				Status:  model.StatusError,
				Content: fmt.Sprintf("failed to save conversation: %v", err),
			}
		} else {
			// The freshly persisted conversation becomes the active one,
			// even if another record was selected mid-stream.
			o.local[idx].ID = assigned
			o.activeID = assigned
		}
	}
	o.endLocked()
	o.mu.Unlock()
	o.publish()
}

// fail marks the record errored. The record stays local-only and is
// never persisted; its content never changes again.
func (o *Orchestrator) fail(tempID string, err error) {
	o.mu.Lock()
	idx := o.findLocalLocked(tempID)
	if idx >= 0 && o.local[idx].Response.Status == model.StatusOK {
		msg := err.Error()
		if errors.Is(err, stream.ErrCancelled) {
			msg = "generation cancelled"
		}
		o.local[idx].Response = model.Response{Status: model.StatusError, Content: msg}
	}
	o.endLocked()
	o.mu.Unlock()
	o.publish()
}

func (o *Orchestrator) endLocked() {
	o.busy = false
	o.loading = false
	o.streaming = false
	o.state = StateIdle
	o.cancel = nil
}

// ApplySnapshot replaces the persisted portion of history with a fresh
// store snapshot (newest first). Local records whose id now appears in
// the store are dropped - the echo has taken over. Errored records keep
// their temp ids and therefore survive every snapshot.
func (o *Orchestrator) ApplySnapshot(records []model.Conversation) {
	o.mu.Lock()
	o.persisted = records

	ids := make(map[string]bool, len(records))
	for _, c := range records {
		ids[c.ID] = true
	}
	var kept []model.Conversation
	for _, c := range o.local {
		if !ids[c.ID] {
			kept = append(kept, c)
		}
	}
	o.local = kept
	o.mu.Unlock()
	o.publish()
}

// SelectConversation is a pure local transition: it changes what is
// displayed and clears the loading/streaming flags. An in-flight stream
// is unaffected and still finalizes.
func (o *Orchestrator) SelectConversation(id string) {
	o.mu.Lock()
	o.activeID = id
	o.loading = false
	o.streaming = false
	o.mu.Unlock()
	o.publish()
}

// CancelActive cancels the in-flight stream, if any. The cancelled
// record ends up errored with a cancellation message.
func (o *Orchestrator) CancelActive() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the current published state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) publish() {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	o.mu.Lock()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	if o.notify != nil {
		o.notify(snap)
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		History:   o.historyLocked(),
		ActiveID:  o.activeID,
		State:     o.state,
		Loading:   o.loading,
		Streaming: o.streaming,
	}
}

// historyLocked merges local and persisted records newest-first. A
// local record that also exists in the store defers to the store copy.
func (o *Orchestrator) historyLocked() []model.Conversation {
	persistedIDs := make(map[string]bool, len(o.persisted))
	for _, c := range o.persisted {
		persistedIDs[c.ID] = true
	}

	merged := make([]model.Conversation, 0, len(o.local)+len(o.persisted))
	i, j := 0, 0
	for i < len(o.local) || j < len(o.persisted) {
		switch {
		case i < len(o.local) && persistedIDs[o.local[i].ID]:
			i++
		case j >= len(o.persisted):
			merged = append(merged, o.local[i])
			i++
		case i >= len(o.local):
			merged = append(merged, o.persisted[j])
			j++
		case o.local[i].Timestamp.After(o.persisted[j].Timestamp):
			merged = append(merged, o.local[i])
			i++
		default:
			merged = append(merged, o.persisted[j])
			j++
		}
	}
	return merged
}

func (o *Orchestrator) findLocalLocked(id string) int {
	for i, c := range o.local {
		if c.ID == id {
			return i
		}
	}
	return -1
}
