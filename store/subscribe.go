package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"gemchat/config"
	"gemchat/model"
)

// Subscribe opens a live SSE stream over the identity's collection and
// invokes onSnapshot with the full list, newest first, on every change
// including the initial read. onDrop (optional) fires once if the
// subscription terminates abnormally. The returned function tears the
// subscription down and waits for the consumer goroutine to exit, so
// once it returns no further callbacks fire. It must not be called
// from inside a callback.
//
// Callbacks are invoked sequentially from the subscription goroutine.
func (s *Store) Subscribe(ctx context.Context, uid string, onSnapshot func([]model.Conversation), onDrop func(error)) (func(), error) {
	if uid == "" {
		return nil, fmt.Errorf("identity is required")
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth token: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	query := url.Values{}
	query.Set("auth", token)
	query.Set("orderBy", `"timestamp"`)

	reqURL := fmt.Sprintf("%s/history/%s.json?%s", s.baseURL, uid, query.Encode())
	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("subscribe rejected: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Cancelling subCtx aborts the in-flight body read, so consume
	// always observes the teardown promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.consume(subCtx, resp.Body, onSnapshot, onDrop)
	}()

	unsubscribe := func() {
		cancel()
		<-done
	}
	return unsubscribe, nil
}

// sseEvent is one put/patch notification from the stream.
type sseEvent struct {
	name string
	data string
}

type changePayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

func (s *Store) consume(ctx context.Context, body io.ReadCloser, onSnapshot func([]model.Conversation), onDrop func(error)) {
	defer body.Close()

	mirror := make(map[string]entry)
	reader := bufio.NewReader(body)

	for {
		event, err := readEvent(reader)
		if err != nil {
			if ctx.Err() == nil && onDrop != nil {
				onDrop(fmt.Errorf("history subscription lost: %w", err))
			}
			return
		}

		switch event.name {
		case "put", "patch":
			if err := applyChange(mirror, event); err != nil {
				if config.DebugLog != nil {
					config.DebugLog.Printf("ignoring malformed %s event: %v", event.name, err)
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			onSnapshot(snapshotList(mirror))
		case "keep-alive":
			// nothing to do
		case "cancel", "auth_revoked":
			if ctx.Err() == nil && onDrop != nil {
				onDrop(fmt.Errorf("history subscription closed by server: %s", event.name))
			}
			return
		}
	}
}

// readEvent parses the next SSE event (event:/data: lines up to a blank
// line). Multi-line data fields are joined with newlines per the SSE
// format.
func readEvent(reader *bufio.Reader) (sseEvent, error) {
	var event sseEvent
	var dataLines []string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if event.name != "" || len(dataLines) > 0 {
				event.data = strings.Join(dataLines, "\n")
				return event, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// applyChange folds one put/patch into the collection mirror. Entries
// are only ever written whole by this application, so changes always
// target the collection root or a single entry key.
func applyChange(mirror map[string]entry, event sseEvent) error {
	var change changePayload
	if err := json.Unmarshal([]byte(event.data), &change); err != nil {
		return err
	}

	isNull := len(change.Data) == 0 || string(change.Data) == "null"

	if change.Path == "/" || change.Path == "" {
		if event.name == "put" {
			for k := range mirror {
				delete(mirror, k)
			}
		}
		if isNull {
			return nil
		}
		var entries map[string]entry
		if err := json.Unmarshal(change.Data, &entries); err != nil {
			return err
		}
		for k, e := range entries {
			mirror[k] = e
		}
		return nil
	}

	key := strings.TrimPrefix(change.Path, "/")
	if strings.Contains(key, "/") {
		return fmt.Errorf("unexpected nested path %q", change.Path)
	}

	if isNull {
		delete(mirror, key)
		return nil
	}
	var e entry
	if err := json.Unmarshal(change.Data, &e); err != nil {
		return err
	}
	mirror[key] = e
	return nil
}

// snapshotList orders the mirror ascending by timestamp (key as a tie
// break, matching insertion order for same-millisecond writes) and
// reverses it so the newest conversation comes first.
func snapshotList(mirror map[string]entry) []model.Conversation {
	keys := make([]string, 0, len(mirror))
	for k := range mirror {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := mirror[keys[i]], mirror[keys[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return keys[i] < keys[j]
	})

	list := make([]model.Conversation, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		list = append(list, mirror[keys[i]].toConversation(keys[i]))
	}
	return list
}
