// Package store adapts the Realtime Database REST surface as the
// history store: one collection per identity, server-assigned keys and
// timestamps on write, and a live SSE subscription that mirrors the
// collection and republishes it on every change.
package store

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"gemchat/config"
	"gemchat/model"
)

// TokenSource supplies a valid auth token per request. The identity
// provider implements this.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Store is a ready history store adapter. It only exists in a ready
// state: construction fails without a validated configuration, and a
// configuration change means tearing the adapter down and building a
// new one.
type Store struct {
	baseURL string
	tokens  TokenSource
	rest    *resty.Client

	// http is used for the SSE subscription, which needs the raw
	// response body for incremental reads.
	http *http.Client
}

// New creates a store adapter against the configured database.
func New(fb *config.FirebaseConfig, tokens TokenSource) (*Store, error) {
	if fb == nil {
		return nil, fmt.Errorf("firebase is not configured")
	}
	if tokens == nil {
		return nil, fmt.Errorf("a token source is required")
	}

	rest := resty.New()
	rest.SetBaseURL(fb.DatabaseURL)
	rest.SetTimeout(30 * time.Second)

	return &Store{
		baseURL: fb.DatabaseURL,
		tokens:  tokens,
		rest:    rest,
		http:    &http.Client{},
	}, nil
}

// entry is the wire form of a conversation: the record minus its id
// (the id is the entry's key) with the timestamp as epoch milliseconds.
type entry struct {
	Prompt    string         `json:"prompt"`
	Task      string         `json:"task"`
	Response  model.Response `json:"response"`
	Timestamp int64          `json:"timestamp"`
	Warnings  []string       `json:"warnings,omitempty"`
}

func (e entry) toConversation(key string) model.Conversation {
	return model.Conversation{
		ID:        key,
		Prompt:    e.Prompt,
		Task:      model.TaskType(e.Task),
		Response:  e.Response,
		Timestamp: time.UnixMilli(e.Timestamp),
		Warnings:  e.Warnings,
	}
}

// serverTimestamp is the RTDB server-value sentinel: the store replaces
// it with the write time, keeping ordering consistent with write order
// even under client clock skew.
var serverTimestamp = map[string]string{".sv": "timestamp"}

type appendBody struct {
	Prompt    string         `json:"prompt"`
	Task      string         `json:"task"`
	Response  model.Response `json:"response"`
	Timestamp any            `json:"timestamp"`
	Warnings  []string       `json:"warnings,omitempty"`
}

type appendResult struct {
	Name string `json:"name"`
}

// Append writes a finalized conversation under the identity's
// collection. The record's id and local timestamp are discarded; the
// store assigns both. Returns the store-assigned key.
func (s *Store) Append(ctx context.Context, uid string, conv model.Conversation) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("identity is required")
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get auth token: %w", err)
	}

	var result appendResult
	resp, err := s.rest.R().
		SetContext(ctx).
		SetQueryParam("auth", token).
		SetBody(appendBody{
			Prompt:    conv.Prompt,
			Task:      string(conv.Task),
			Response:  conv.Response,
			Timestamp: serverTimestamp,
			Warnings:  conv.Warnings,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/history/%s.json", uid))
	if err != nil {
		return "", fmt.Errorf("history write failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("history write rejected: %s %s", resp.Status(), resp.String())
	}
	if result.Name == "" {
		return "", fmt.Errorf("history write returned no key")
	}

	return result.Name, nil
}
