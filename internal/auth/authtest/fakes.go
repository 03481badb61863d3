// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package authtest provides deterministic collaborators for exercising auth.Service.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vidloom/accounts/internal/auth"
)

// ErrDeliveryFailed is returned by RecordingNotifier for kinds set to fail.
var ErrDeliveryFailed = errors.New("delivery failed")

// SequentialCodes yields "100000", "100001", ... in order.
type SequentialCodes struct {
	mu   sync.Mutex
	next int
}

// Generate returns the next code in the sequence.
func (g *SequentialCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := fmt.Sprintf("%06d", 100000+g.next)
	g.next++
	return code, nil
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RecordingNotifier records every message and can be told to fail by kind.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []auth.Message
	failing  map[auth.MessageKind]bool
}

// NewRecordingNotifier creates an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{failing: make(map[auth.MessageKind]bool)}
}

// Send records msg, or returns ErrDeliveryFailed if its kind is set to fail.
// Failed messages are not recorded.
func (n *RecordingNotifier) Send(_ context.Context, msg auth.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failing[msg.Kind] {
		return ErrDeliveryFailed
	}
	n.messages = append(n.messages, msg)
	return nil
}

// FailOn makes subsequent sends of kind fail (or succeed again when fail is false).
func (n *RecordingNotifier) FailOn(kind auth.MessageKind, fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing[kind] = fail
}

// Messages returns a copy of the recorded messages.
func (n *RecordingNotifier) Messages() []auth.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]auth.Message(nil), n.messages...)
}

// Last returns the most recent message of kind sent to recipient.
func (n *RecordingNotifier) Last(kind auth.MessageKind, to string) (auth.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.messages) - 1; i >= 0; i-- {
		m := n.messages[i]
		if m.Kind == kind && m.To == to {
			return m, true
		}
	}
	return auth.Message{}, false
}

// FastHasher returns an argon2id hasher with a minimal work factor for tests.
func FastHasher() *auth.Argon2idHasher {
	h, err := auth.NewArgon2idHasherWithParams(auth.HashParams{Time: 1, Memory: 1024, Threads: 1})
	if err != nil {
		panic(err)
	}
	return h
}
