package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"gemchat/chat"
	"gemchat/config"
	"gemchat/identity"
	"gemchat/model"
	"gemchat/store"
	"gemchat/stream"
	"gemchat/ui"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

// backend owns everything behind the orchestrator: the stream client,
// the identity provider and the store subscription. rebuild tears the
// current wiring down and reconnects from the live configuration; the
// generation counter keeps a superseded connect goroutine from
// registering its results.
type backend struct {
	cfg  *config.Config
	orch *chat.Orchestrator

	mu          sync.Mutex
	send        func(tea.Msg)
	generation  int
	unsubscribe func()
}

func (b *backend) rebuild() error {
	b.mu.Lock()
	b.generation++
	gen := b.generation
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.mu.Unlock()

	var streamer chat.Streamer
	if b.cfg.StreamReady() {
		client, err := stream.NewClient(b.cfg.WorkerURL)
		if err != nil {
			return fmt.Errorf("failed to build stream client: %w", err)
		}
		if config.DebugLog != nil {
			config.DebugLog.Printf("stream client ready for %s", client.Endpoint())
		}
		streamer = client
	}

	var appender chat.Appender
	var provider *identity.Provider
	var st *store.Store
	if b.cfg.StoreReady() {
		provider = identity.NewProvider(b.cfg.Firebase, b.cfg.DataDir())
		var err error
		st, err = store.New(b.cfg.Firebase, provider)
		if err != nil {
			return fmt.Errorf("failed to build history store: %w", err)
		}
		appender = st
	}

	b.orch.Configure(streamer, appender)

	if provider != nil {
		go b.connect(gen, provider, st)
	}
	return nil
}

// connect resolves the anonymous identity and opens the history
// subscription. Runs off the UI loop; results are posted back as
// messages.
func (b *backend) connect(gen int, provider *identity.Provider, st *store.Store) {
	ctx := context.Background()

	uid, err := provider.Resolve(ctx)
	if err != nil {
		b.post(model.IdentityErrorMsg{Err: err})
		return
	}
	if b.stale(gen) {
		return
	}

	b.orch.SetIdentity(uid)
	b.post(model.IdentityReadyMsg{UserID: uid})

	unsubscribe, err := st.Subscribe(ctx, uid, b.orch.ApplySnapshot, func(err error) {
		b.post(model.SubscriptionErrorMsg{Err: err})
	})
	if err != nil {
		b.post(model.SubscriptionErrorMsg{Err: err})
		return
	}

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		unsubscribe()
		return
	}
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
}

func (b *backend) stale(gen int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gen != b.generation
}

func (b *backend) post(msg tea.Msg) {
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	// One-slot snapshot channel: a slow redraw only ever sees the
	// latest state, intermediate snapshots are dropped.
	snapshots := make(chan chat.Snapshot, 1)
	orch := chat.New(func(s chat.Snapshot) {
		for {
			select {
			case snapshots <- s:
				return
			default:
				select {
				case <-snapshots:
				default:
				}
			}
		}
	})

	b := &backend{cfg: cfg, orch: orch}

	p := tea.NewProgram(
		ui.NewAppView(cfg, orch, b.rebuild),
		tea.WithAltScreen(),
	)

	b.mu.Lock()
	b.send = p.Send
	b.mu.Unlock()

	go func() {
		for s := range snapshots {
			p.Send(model.SnapshotMsg{Snapshot: s})
		}
	}()

	// A missing worker URL or firebase config is not fatal; the UI opens
	// into Settings guidance and submissions are refused until configured.
	if err := b.rebuild(); err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("initial backend wiring failed: %v", err)
		}
	}

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running gemchat: %v\n", err)
		os.Exit(1)
	}
}
