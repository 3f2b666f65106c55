// Package webhook pushes ledger events to external HTTP consumers, such as
// the platform's notification service.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"learnledger/core"
)

// EventTypeHeader names the ledger event type on every delivery, so
// consumers can route without parsing the body.
const EventTypeHeader = "X-Learnledger-Event"

// Sink posts ledger events to configured endpoints. Delivery is synchronous
// and best-effort; pair it with an async event bus to keep it off the event
// pipeline.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]bool // nil means every type
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEventTypes restricts delivery to the given event types. Without it
// every ledger event is delivered.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		s.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:    &http.Client{Timeout: 2 * time.Second},
		endpoints: append([]string{}, endpoints...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEvent posts the event JSON to all endpoints. Failed deliveries are
// dropped; the ledger never blocks on a webhook consumer.
func (s *Sink) OnEvent(ctx context.Context, ev core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	if s.types != nil && !s.types[ev.Type] {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, ep := range s.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(EventTypeHeader, string(ev.Type))
		resp, err := s.client.Do(req)
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
	}
}
