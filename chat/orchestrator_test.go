package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"gemchat/model"
	"gemchat/stream"
)

// scriptedStreamer runs a canned callback sequence when Stream is
// invoked.
type scriptedStreamer struct {
	mu      sync.Mutex
	calls   int
	payload stream.Payload
	script  func(ctx context.Context, cb stream.Callbacks)
}

func (s *scriptedStreamer) Stream(ctx context.Context, payload stream.Payload, cb stream.Callbacks) {
	s.mu.Lock()
	s.calls++
	s.payload = payload
	script := s.script
	s.mu.Unlock()
	script(ctx, cb)
}

type appendCall struct {
	uid  string
	conv model.Conversation
}

type recordingStore struct {
	mu      sync.Mutex
	appends []appendCall
	key     string
	err     error
}

func (r *recordingStore) Append(ctx context.Context, uid string, conv model.Conversation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends = append(r.appends, appendCall{uid: uid, conv: conv})
	return r.key, r.err
}

func (r *recordingStore) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appends)
}

func newTestOrchestrator(streamer Streamer, store Appender, notify func(Snapshot)) *Orchestrator {
	o := New(notify)
	o.Configure(streamer, store)
	o.SetIdentity("user-1")
	return o
}

func waitSnapshot(t *testing.T, ch chan Snapshot, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to finish")
	}
}

func TestSubmitRequiresConfiguration(t *testing.T) {
	o := New(nil)

	err := o.Submit("hello", model.TaskCode)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}

	// Identity missing is also a configuration failure.
	o.Configure(&scriptedStreamer{}, &recordingStore{})
	if err := o.Submit("hello", model.TaskCode); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}

	if snap := o.Snapshot(); len(snap.History) != 0 {
		t.Errorf("rejected submission mutated history: %d records", len(snap.History))
	}
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		<-gate
		cb.OnComplete()
		close(done)
	}}
	store := &recordingStore{key: "-K1"}
	o := newTestOrchestrator(streamer, store, nil)

	if err := o.Submit("first", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.Submit("second", model.TaskCode); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}

	// The rejection must not touch history or streamer state.
	if snap := o.Snapshot(); len(snap.History) != 1 {
		t.Errorf("history has %d records, want 1", len(snap.History))
	}
	close(gate)
	waitDone(t, done)

	if streamer.calls != 1 {
		t.Errorf("streamer called %d times, want 1", streamer.calls)
	}
	if store.callCount() != 1 {
		t.Errorf("store called %d times, want 1", store.callCount())
	}
}

func TestSubmitLifecycle(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("Hel")
		<-gate
		cb.OnUpdate("lo, ")
		cb.OnUpdate("world")
		cb.OnComplete()
		close(done)
	}}
	store := &recordingStore{key: "-Key9"}

	snapshots := make(chan Snapshot, 64)
	o := newTestOrchestrator(streamer, store, func(s Snapshot) { snapshots <- s })

	if err := o.Submit("write a loop", model.TaskFixBug); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Mid-stream: a provisional record with a temp id, streaming flags up.
	mid := waitSnapshot(t, snapshots, func(s Snapshot) bool {
		return len(s.History) == 1 && s.History[0].Response.Content == "Hel"
	})
	if !model.IsTempID(mid.History[0].ID) {
		t.Errorf("provisional id = %q, want a temp id", mid.History[0].ID)
	}
	if !mid.Loading || !mid.Streaming {
		t.Errorf("mid-stream flags = loading:%v streaming:%v", mid.Loading, mid.Streaming)
	}
	if mid.ActiveID != mid.History[0].ID {
		t.Errorf("active = %q, want the provisional record", mid.ActiveID)
	}

	close(gate)
	waitDone(t, done)

	final := o.Snapshot()
	if len(final.History) != 1 {
		t.Fatalf("history has %d records, want 1", len(final.History))
	}
	rec := final.History[0]
	if rec.ID != "-Key9" {
		t.Errorf("id = %q, want the store-assigned key", rec.ID)
	}
	if rec.Response.Content != "Hello, world" {
		t.Errorf("content = %q", rec.Response.Content)
	}
	if rec.Response.Status != model.StatusOK {
		t.Errorf("status = %q", rec.Response.Status)
	}
	if rec.Task != model.TaskFixBug {
		t.Errorf("task = %q", rec.Task)
	}
	if final.ActiveID != "-Key9" {
		t.Errorf("active = %q, want the rebound id", final.ActiveID)
	}
	if final.Loading || final.Streaming || final.State != StateIdle {
		t.Errorf("final state = %+v", final)
	}

	if streamer.payload.Prompt != "write a loop" || streamer.payload.Task != "fix_bug" {
		t.Errorf("payload = %+v", streamer.payload)
	}
	if store.callCount() != 1 {
		t.Fatalf("store called %d times, want 1", store.callCount())
	}
	if call := store.appends[0]; call.uid != "user-1" || call.conv.Response.Content != "Hello, world" {
		t.Errorf("append = %+v", call)
	}
}

func TestSubmitScansPrompt(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		<-gate
		cb.OnComplete()
		close(done)
	}}
	o := newTestOrchestrator(streamer, &recordingStore{key: "-K1"}, nil)

	if err := o.Submit("delete the password file", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := o.Snapshot()
	if len(snap.History[0].Warnings) != 2 {
		t.Errorf("warnings = %v, want 2 entries", snap.History[0].Warnings)
	}

	close(gate)
	waitDone(t, done)
}

func TestStreamErrorMarksRecordAndSkipsPersist(t *testing.T) {
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("partial")
		cb.OnError(errors.New("worker error: 502 upstream exploded"))
		close(done)
	}}
	store := &recordingStore{key: "-K1"}
	o := newTestOrchestrator(streamer, store, nil)

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, done)

	snap := o.Snapshot()
	rec := snap.History[0]
	if rec.Response.Status != model.StatusError {
		t.Errorf("status = %q, want error", rec.Response.Status)
	}
	if !strings.Contains(rec.Response.Content, "502") {
		t.Errorf("content = %q, want the transport error surfaced", rec.Response.Content)
	}
	if !model.IsTempID(rec.ID) {
		t.Errorf("id = %q, errored records keep their temp id", rec.ID)
	}
	if store.callCount() != 0 {
		t.Errorf("store called %d times, errored records are never persisted", store.callCount())
	}

	// The failure releases the busy state.
	streamer.mu.Lock()
	streamer.script = func(ctx context.Context, cb stream.Callbacks) { cb.OnError(errors.New("x")) }
	streamer.mu.Unlock()
	if err := o.Submit("again", model.TaskCode); err != nil {
		t.Errorf("Submit after failure: %v", err)
	}
}

func TestCancelActive(t *testing.T) {
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("par")
		<-ctx.Done()
		cb.OnError(stream.ErrCancelled)
		close(done)
	}}
	store := &recordingStore{key: "-K1"}

	snapshots := make(chan Snapshot, 64)
	o := newTestOrchestrator(streamer, store, func(s Snapshot) { snapshots <- s })

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitSnapshot(t, snapshots, func(s Snapshot) bool {
		return len(s.History) == 1 && s.History[0].Response.Content == "par"
	})

	o.CancelActive()
	waitDone(t, done)

	rec := o.Snapshot().History[0]
	if rec.Response.Status != model.StatusError || rec.Response.Content != "generation cancelled" {
		t.Errorf("record = %+v", rec.Response)
	}
	if store.callCount() != 0 {
		t.Errorf("cancelled records must not be persisted")
	}
}

func persistedRecord(id, prompt string, ts int64) model.Conversation {
	return model.Conversation{
		ID:        id,
		Prompt:    prompt,
		Task:      model.TaskCode,
		Response:  model.Response{Status: model.StatusOK, Content: "stored"},
		Timestamp: time.UnixMilli(ts),
	}
}

func TestApplySnapshotLayersProvisionalRecord(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("streaming")
		<-gate
		cb.OnComplete()
		close(done)
	}}
	store := &recordingStore{key: "-KNew"}
	o := newTestOrchestrator(streamer, store, nil)

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	older := []model.Conversation{
		persistedRecord("-K2", "second", 2000),
		persistedRecord("-K1", "first", 1000),
	}
	o.ApplySnapshot(older)

	snap := o.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("history has %d records, want 3", len(snap.History))
	}
	if !model.IsTempID(snap.History[0].ID) {
		t.Errorf("provisional record must stay on top, got %q", snap.History[0].ID)
	}
	if snap.History[1].ID != "-K2" || snap.History[2].ID != "-K1" {
		t.Errorf("persisted order = [%s %s]", snap.History[1].ID, snap.History[2].ID)
	}

	close(gate)
	waitDone(t, done)

	// The store echo replaces the locally rebound copy without duplication.
	echo := append([]model.Conversation{persistedRecord("-KNew", "prompt", 3000)}, older...)
	o.ApplySnapshot(echo)

	snap = o.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("history has %d records after echo, want 3", len(snap.History))
	}
	seen := map[string]int{}
	for _, c := range snap.History {
		seen[c.ID]++
	}
	if seen["-KNew"] != 1 {
		t.Errorf("-KNew appears %d times, want 1", seen["-KNew"])
	}
}

func TestErroredRecordSurvivesSnapshots(t *testing.T) {
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnError(errors.New("worker error: 500"))
		close(done)
	}}
	o := newTestOrchestrator(streamer, &recordingStore{}, nil)

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, done)

	o.ApplySnapshot(nil)
	snap := o.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Response.Status != model.StatusError {
		t.Fatalf("errored record dropped by snapshot: %+v", snap.History)
	}

	o.ApplySnapshot([]model.Conversation{persistedRecord("-K1", "old", 1000)})
	snap = o.Snapshot()
	if len(snap.History) != 2 || snap.History[0].Response.Status != model.StatusError {
		t.Errorf("history = %+v, want the errored record layered on top", snap.History)
	}
}

func TestFinalizePersistFailure(t *testing.T) {
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("answer")
		cb.OnComplete()
		close(done)
	}}
	store := &recordingStore{err: errors.New("history write rejected: 401 Unauthorized")}
	o := newTestOrchestrator(streamer, store, nil)

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, done)

	snap := o.Snapshot()
	rec := snap.History[0]
	if rec.Response.Status != model.StatusError {
		t.Errorf("status = %q, want error after failed persist", rec.Response.Status)
	}
	if !strings.Contains(rec.Response.Content, "failed to save") {
		t.Errorf("content = %q", rec.Response.Content)
	}
	if !model.IsTempID(rec.ID) {
		t.Errorf("id = %q, a failed persist must not rebind the id", rec.ID)
	}
	if snap.State != StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
}

func TestFinalizeLeavesOtherRecordsUntouched(t *testing.T) {
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("new answer")
		cb.OnComplete()
		close(done)
	}}
	o := newTestOrchestrator(streamer, &recordingStore{key: "-KNew"}, nil)

	older := []model.Conversation{
		persistedRecord("-K2", "second", 2000),
		persistedRecord("-K1", "first", 1000),
	}
	o.ApplySnapshot(older)

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, done)

	snap := o.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("history has %d records, want 3", len(snap.History))
	}
	if !reflect.DeepEqual(snap.History[1], older[0]) || !reflect.DeepEqual(snap.History[2], older[1]) {
		t.Errorf("finalization changed unrelated records: %+v", snap.History[1:])
	}
}

func TestPublishDeliversLatestStateLast(t *testing.T) {
	hold := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("mid")
		<-hold
		cb.OnError(errors.New("x"))
		close(done)
	}}

	// The fold delivery blocks on gate; a concurrent ApplySnapshot must
	// not slip a newer snapshot past it, or the stale one would be the
	// last delivered and the UI would understate real state.
	gate := make(chan struct{})
	folded := make(chan struct{})
	var mu sync.Mutex
	var last Snapshot
	var blockedOnce bool

	o := New(nil)
	o.notify = func(s Snapshot) {
		if len(s.History) == 1 && s.History[0].Response.Content == "mid" {
			mu.Lock()
			first := !blockedOnce
			blockedOnce = true
			mu.Unlock()
			if first {
				close(folded)
				<-gate
			}
		}
		mu.Lock()
		last = s
		mu.Unlock()
	}
	o.Configure(streamer, &recordingStore{})
	o.SetIdentity("user-1")

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-folded

	applied := make(chan struct{})
	go func() {
		o.ApplySnapshot([]model.Conversation{persistedRecord("-K1", "old", 1000)})
		close(applied)
	}()

	// Let the ApplySnapshot publish reach the fold delivery still in
	// flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ApplySnapshot")
	}

	mu.Lock()
	got := last
	mu.Unlock()
	if len(got.History) != 2 {
		t.Errorf("last delivered snapshot has %d records, want 2 (stale snapshot delivered after a newer one)", len(got.History))
	}

	close(hold)
	waitDone(t, done)
}

func TestFinalizeActivatesPersistedRecord(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("answer")
		<-gate
		cb.OnComplete()
		close(done)
	}}
	o := newTestOrchestrator(streamer, &recordingStore{key: "-KNew"}, nil)
	o.ApplySnapshot([]model.Conversation{persistedRecord("-K1", "old", 1000)})

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Selecting another record mid-stream is visual only; the finished
	// conversation still takes over as the active one.
	o.SelectConversation("-K1")

	close(gate)
	waitDone(t, done)

	if snap := o.Snapshot(); snap.ActiveID != "-KNew" {
		t.Errorf("active = %q, want -KNew", snap.ActiveID)
	}
}

func TestSelectConversation(t *testing.T) {
	o := newTestOrchestrator(&scriptedStreamer{}, &recordingStore{}, nil)
	o.ApplySnapshot([]model.Conversation{
		persistedRecord("-K2", "second", 2000),
		persistedRecord("-K1", "first", 1000),
	})

	o.SelectConversation("-K1")

	snap := o.Snapshot()
	if snap.ActiveID != "-K1" {
		t.Errorf("active = %q, want -K1", snap.ActiveID)
	}
	if snap.Loading || snap.Streaming {
		t.Errorf("selection must clear the loading flags: %+v", snap)
	}
	if len(snap.History) != 2 {
		t.Errorf("selection changed history: %d records", len(snap.History))
	}
}

func TestReconfigureAbortsFinalization(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan struct{})
	streamer := &scriptedStreamer{script: func(ctx context.Context, cb stream.Callbacks) {
		cb.OnUpdate("mid")
		<-gate
		cb.OnComplete()
		close(done)
	}}
	store := &recordingStore{key: "-K1"}
	o := newTestOrchestrator(streamer, store, nil)

	if err := o.Submit("prompt", model.TaskCode); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Re-wiring the backend drops the provisional record; the stream
	// finishes against a history that no longer holds it.
	o.Configure(&scriptedStreamer{}, &recordingStore{})
	close(gate)
	waitDone(t, done)

	if store.callCount() != 0 {
		t.Errorf("store called %d times, want 0 after reconfiguration", store.callCount())
	}
	if snap := o.Snapshot(); len(snap.History) != 0 {
		t.Errorf("history has %d records, want 0", len(snap.History))
	}
}
