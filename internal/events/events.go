// Package events announces accepted profile changes to downstream
// subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Change describes one accepted submission. It names what changed, not the
// new values; subscribers read the profile itself.
type Change struct {
	UserID            string    `json:"user_id"`
	Condition         string    `json:"condition"`
	ChangedAttributes []string  `json:"changed_attributes"`
	Version           int64     `json:"version"`
	AcceptedAt        time.Time `json:"accepted_at"`
}

// Encode returns the wire form of c.
func (c Change) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a wire-form change.
func Decode(data []byte) (Change, error) {
	var c Change
	err := json.Unmarshal(data, &c)
	return c, err
}

// Publisher delivers changes.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// InMemoryPublisher records changes for tests and single-node deployments.
type InMemoryPublisher struct {
	mu      sync.Mutex
	changes []Change
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(_ context.Context, change Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

// Published returns a copy of every change so far, oldest first.
func (p *InMemoryPublisher) Published() []Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Change(nil), p.changes...)
}
