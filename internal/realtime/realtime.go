package realtime

import (
	"context"
	"encoding/json"
)

// Message is one event delivered to channel subscribers.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// PresenceEntry describes one participant currently subscribed to a channel.
type PresenceEntry struct {
	UserID   string          `json:"user_id"`
	Metadata json.RawMessage `json:"metadata"`
}

// Subscription carries the identity a participant joins a channel with.
type Subscription struct {
	UserID   string
	Metadata json.RawMessage
}

// MessageHandler receives published messages.
type MessageHandler func(message Message)

// PresenceHandler receives the full membership snapshot after each change.
type PresenceHandler func(entries []PresenceEntry)

// Channel is one named publish/subscribe topic with presence tracking.
// Handlers registered via OnMessage and OnPresence are invoked synchronously
// within the transport's delivery path, at most once per message.
type Channel interface {
	Subscribe(ctx context.Context, sub Subscription) error
	Unsubscribe(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload any) error
	OnMessage(handler MessageHandler)
	OnPresence(handler PresenceHandler)
	Presence(ctx context.Context) ([]PresenceEntry, error)
}

// Transport hands out channel handles keyed by name. Channels with distinct
// names are fully independent.
type Transport interface {
	Channel(name string) Channel
}
