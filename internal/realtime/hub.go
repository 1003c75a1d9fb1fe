package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAlreadySubscribed indicates Subscribe was called twice on one handle.
	ErrAlreadySubscribed = errors.New("realtime: handle already subscribed")
	// ErrNotSubscribed indicates an operation that requires an active subscription.
	ErrNotSubscribed = errors.New("realtime: handle not subscribed")
	// ErrMissingUserID indicates a subscription without a user identifier.
	ErrMissingUserID = errors.New("realtime: subscription user id is required")
)

// Hub is an in-process Transport. Each named channel fans published messages
// out to every subscribed handle and pushes a fresh presence snapshot on every
// membership change. A channel exists only while it has members: the first
// Subscribe creates it and the last Unsubscribe removes it, so the
// time-suffixed names session attempts mint do not accumulate in a
// long-running process.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*hubChannel
	nextID   int64
}

type hubChannel struct {
	name    string
	mu      sync.RWMutex
	members map[int64]*hubHandle
}

// NewHub constructs an empty in-memory hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*hubChannel)}
}

// Channel returns a fresh handle bound to the named channel. Handles sharing a
// name share membership and message fan-out. The handle resolves the channel
// by name at Subscribe time, so a channel released after its last member left
// is recreated cleanly instead of splitting state.
func (h *Hub) Channel(name string) Channel {
	return &hubHandle{hub: h, name: name}
}

// Publish fans a message out on the named channel without requiring the
// caller to hold a subscription. Used by server-side bridges that relay
// events published over HTTP.
func (h *Hub) Publish(ctx context.Context, channelName, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode payload: %w", err)
	}

	h.mu.Lock()
	state := h.channels[channelName]
	h.mu.Unlock()
	if state == nil {
		return nil
	}

	message := Message{Topic: topic, Payload: raw}
	for _, member := range state.snapshotMembers() {
		member.deliver(message)
	}
	return nil
}

// join resolves or creates the named channel and registers the member under a
// fresh sequence id. The member is added while the hub lock is held so that
// release cannot observe the channel empty with a subscriber on its way in.
func (h *Hub) join(name string, member *hubHandle) (*hubChannel, int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.channels[name]
	if !ok {
		state = &hubChannel{name: name, members: make(map[int64]*hubHandle)}
		h.channels[name] = state
	}
	h.nextID++
	state.mu.Lock()
	state.members[h.nextID] = member
	state.mu.Unlock()
	return state, h.nextID
}

// release drops a channel whose last member has left. Emptiness is re-checked
// under both locks because a concurrent join may have repopulated the channel
// or already replaced the entry under the same name.
func (h *Hub) release(state *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state.mu.RLock()
	empty := len(state.members) == 0
	state.mu.RUnlock()
	if empty && h.channels[state.name] == state {
		delete(h.channels, state.name)
	}
}

type hubHandle struct {
	hub  *Hub
	name string

	mu         sync.Mutex
	state      *hubChannel
	memberID   int64
	sub        Subscription
	onMessage  MessageHandler
	onPresence PresenceHandler
}

func (c *hubHandle) Subscribe(ctx context.Context, sub Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sub.UserID == "" {
		return ErrMissingUserID
	}

	c.mu.Lock()
	if c.state != nil {
		c.mu.Unlock()
		return ErrAlreadySubscribed
	}
	c.sub = sub
	state, id := c.hub.join(c.name, c)
	c.state = state
	c.memberID = id
	c.mu.Unlock()

	state.notifyPresence()
	return nil
}

func (c *hubHandle) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	id := c.memberID
	c.state = nil
	c.memberID = 0
	c.mu.Unlock()
	if state == nil {
		return nil
	}

	state.mu.Lock()
	delete(state.members, id)
	empty := len(state.members) == 0
	state.mu.Unlock()

	if empty {
		c.hub.release(state)
		return nil
	}
	state.notifyPresence()
	return nil
}

func (c *hubHandle) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil {
		return ErrNotSubscribed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode payload: %w", err)
	}
	message := Message{Topic: topic, Payload: raw}

	for _, member := range state.snapshotMembers() {
		member.deliver(message)
	}
	return nil
}

func (c *hubHandle) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

func (c *hubHandle) OnPresence(handler PresenceHandler) {
	c.mu.Lock()
	c.onPresence = handler
	c.mu.Unlock()
}

func (c *hubHandle) Presence(ctx context.Context) ([]PresenceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil {
		c.hub.mu.Lock()
		state = c.hub.channels[c.name]
		c.hub.mu.Unlock()
	}
	if state == nil {
		return []PresenceEntry{}, nil
	}
	return state.presenceSnapshot(), nil
}

func (c *hubHandle) deliver(message Message) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler != nil {
		handler(message)
	}
}

func (s *hubChannel) snapshotMembers() []*hubHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]*hubHandle, 0, len(s.members))
	for _, member := range s.members {
		members = append(members, member)
	}
	return members
}

func (s *hubChannel) presenceSnapshot() []PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]PresenceEntry, 0, len(s.members))
	for _, member := range s.members {
		member.mu.Lock()
		entries = append(entries, PresenceEntry{UserID: member.sub.UserID, Metadata: member.sub.Metadata})
		member.mu.Unlock()
	}
	return entries
}

func (s *hubChannel) notifyPresence() {
	entries := s.presenceSnapshot()
	for _, member := range s.snapshotMembers() {
		member.mu.Lock()
		handler := member.onPresence
		member.mu.Unlock()
		if handler != nil {
			handler(entries)
		}
	}
}
