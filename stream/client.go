// Package stream consumes the worker endpoint's chunked text response.
//
// The worker speaks a deliberately plain protocol: POST a JSON payload,
// get back a 2xx with a raw text stream whose chunks concatenate to the
// full answer. There is no framing to parse; the only subtlety is that a
// multi-byte UTF-8 rune may straddle a chunk boundary, so decode state is
// carried across reads the way a streaming TextDecoder would.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrCancelled is reported through OnError when the stream's context is
// cancelled before the response completes.
var ErrCancelled = errors.New("stream cancelled")

// Payload is the request body sent to the worker.
type Payload struct {
	Prompt string `json:"prompt"`
	Task   string `json:"task"`
}

// Callbacks receives stream events. OnUpdate fires zero or more times,
// strictly before exactly one of OnComplete or OnError; nothing fires
// after a terminal callback. Callbacks are invoked from the goroutine
// running Stream.
type Callbacks struct {
	OnUpdate   func(chunk string)
	OnComplete func()
	OnError    func(err error)
}

// Client streams completions from a single configured worker endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a stream client for the given worker URL.
func NewClient(endpoint string) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("worker URL is required")
	}

	// No client-side timeout: responses stream for as long as the
	// backend keeps generating. Cancellation goes through the context.
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{},
	}, nil
}

// Endpoint returns the configured worker URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Stream POSTs the payload and forwards the response body incrementally.
// It blocks until the stream terminates; callers run it on their own
// goroutine.
func (c *Client) Stream(ctx context.Context, payload Payload, cb Callbacks) {
	body, err := json.Marshal(payload)
	if err != nil {
		cb.OnError(fmt.Errorf("failed to encode request: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cb.OnError(fmt.Errorf("failed to build request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		cb.OnError(asStreamError(ctx, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		cb.OnError(fmt.Errorf("worker error: %d %s", resp.StatusCode, strings.TrimSpace(string(errText))))
		return
	}

	var dec utf8Decoder
	var total int
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			cb.OnError(ErrCancelled)
			return
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			total += n
			if chunk := dec.decode(buf[:n]); chunk != "" {
				cb.OnUpdate(chunk)
			}
		}

		if err == io.EOF {
			if total == 0 {
				cb.OnError(fmt.Errorf("response body is empty"))
				return
			}
			// Trailing bytes that never completed a rune are emitted
			// as-is rather than dropped.
			if tail := dec.flush(); tail != "" {
				cb.OnUpdate(tail)
			}
			cb.OnComplete()
			return
		}
		if err != nil {
			cb.OnError(asStreamError(ctx, err))
			return
		}
	}
}

func asStreamError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return fmt.Errorf("streaming failed: %w", err)
}
