package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

func channelCount(hub *Hub) int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.channels)
}

func TestHubFansMessagesOutToChannelMembers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	first := hub.Channel("list-updates")
	second := hub.Channel("list-updates")

	var received []Message
	second.OnMessage(func(message Message) {
		received = append(received, message)
	})

	if err := first.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := second.Subscribe(ctx, Subscription{UserID: "user-2"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	if err := first.Publish(ctx, "item_added", map[string]string{"itemId": "x"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 message, got %d", len(received))
	}
	if received[0].Topic != "item_added" {
		t.Fatalf("unexpected topic %q", received[0].Topic)
	}
	var payload map[string]string
	if err := json.Unmarshal(received[0].Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["itemId"] != "x" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestHubChannelsAreIsolatedByName(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	alpha := hub.Channel("channel-alpha")
	beta := hub.Channel("channel-beta")

	betaMessages := 0
	beta.OnMessage(func(Message) { betaMessages++ })

	if err := alpha.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := beta.Subscribe(ctx, Subscription{UserID: "user-2"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	if err := alpha.Publish(ctx, "event", "payload"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	if betaMessages != 0 {
		t.Fatalf("did not expect messages on unrelated channel, got %d", betaMessages)
	}
}

func TestHubPresenceTracksSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	first := hub.Channel("family-room")
	second := hub.Channel("family-room")

	var snapshots [][]PresenceEntry
	first.OnPresence(func(entries []PresenceEntry) {
		snapshots = append(snapshots, entries)
	})

	if err := first.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := second.Subscribe(ctx, Subscription{UserID: "user-2"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	entries, err := first.Presence(ctx)
	if err != nil {
		t.Fatalf("unexpected presence error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 presence entries, got %d", len(entries))
	}

	if err := second.Unsubscribe(ctx); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}
	entries, err = first.Presence(ctx)
	if err != nil {
		t.Fatalf("unexpected presence error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 presence entry after unsubscribe, got %d", len(entries))
	}
	if entries[0].UserID != "user-1" {
		t.Fatalf("unexpected remaining member %q", entries[0].UserID)
	}

	if len(snapshots) < 3 {
		t.Fatalf("expected at least 3 presence snapshots, got %d", len(snapshots))
	}
	last := snapshots[len(snapshots)-1]
	if len(last) != 1 {
		t.Fatalf("expected final snapshot of 1 member, got %d", len(last))
	}
}

func TestHubSubscribeValidation(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	handle := hub.Channel("validation")
	if err := handle.Subscribe(ctx, Subscription{}); err != ErrMissingUserID {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if err := handle.Publish(ctx, "event", "payload"); err != ErrNotSubscribed {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
	if err := handle.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := handle.Subscribe(ctx, Subscription{UserID: "user-1"}); err != ErrAlreadySubscribed {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestHubPublishWithoutMembership(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	member := hub.Channel("bridge")
	received := 0
	member.OnMessage(func(Message) { received++ })
	if err := member.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	if err := hub.Publish(ctx, "bridge", "event", map[string]int{"n": 1}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if received != 1 {
		t.Fatalf("expected 1 delivered message, got %d", received)
	}

	// Publishing into a channel nobody has opened is a quiet no-op.
	if err := hub.Publish(ctx, "empty-channel", "event", "payload"); err != nil {
		t.Fatalf("unexpected publish error for empty channel: %v", err)
	}
}

func TestHubReleasesEmptyChannels(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	// Session managers mint a fresh time-suffixed channel name per connect,
	// so every abandoned name must leave the hub once its member is gone.
	for i := 0; i < 100; i++ {
		handle := hub.Channel(fmt.Sprintf("sync_user-1_%d", i))
		if err := handle.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
			t.Fatalf("unexpected subscribe error: %v", err)
		}
		if err := handle.Unsubscribe(ctx); err != nil {
			t.Fatalf("unexpected unsubscribe error: %v", err)
		}
	}

	if remaining := channelCount(hub); remaining != 0 {
		t.Fatalf("expected all channels released, %d remain", remaining)
	}
}

func TestHubKeepsChannelWhileMembersRemain(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	first := hub.Channel("shared")
	second := hub.Channel("shared")
	if err := first.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := second.Subscribe(ctx, Subscription{UserID: "user-2"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	if err := first.Unsubscribe(ctx); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}
	if count := channelCount(hub); count != 1 {
		t.Fatalf("expected channel to survive remaining member, got %d channels", count)
	}

	if err := second.Unsubscribe(ctx); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}
	if count := channelCount(hub); count != 0 {
		t.Fatalf("expected channel released after last member, got %d channels", count)
	}
}

func TestHubRecreatedChannelStartsClean(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	stale := hub.Channel("room")
	if err := stale.Subscribe(ctx, Subscription{UserID: "user-1"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := stale.Unsubscribe(ctx); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}

	fresh := hub.Channel("room")
	received := 0
	fresh.OnMessage(func(Message) { received++ })
	if err := fresh.Subscribe(ctx, Subscription{UserID: "user-2"}); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	if err := hub.Publish(ctx, "room", "event", "payload"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if received != 1 {
		t.Fatalf("expected recreated channel to deliver, got %d messages", received)
	}

	entries, err := fresh.Presence(ctx)
	if err != nil {
		t.Fatalf("unexpected presence error: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "user-2" {
		t.Fatalf("expected only the new member present, got %#v", entries)
	}

	if err := stale.Publish(ctx, "event", "payload"); err != ErrNotSubscribed {
		t.Fatalf("expected stale handle to report ErrNotSubscribed, got %v", err)
	}
}
