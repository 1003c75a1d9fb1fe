package devicesync

import (
	"encoding/json"
	"time"
)

// EventType enumerates cross-device sync events.
type EventType string

const (
	EventShoppingListUpdated EventType = "shopping_list_updated"
	EventItemAdded           EventType = "item_added"
	EventItemRemoved         EventType = "item_removed"
	EventItemChecked         EventType = "item_checked"
	EventLocationChanged     EventType = "location_changed"
)

// TopicSyncEvent is the channel topic sync events are published under.
const TopicSyncEvent = "sync_event"

// Event is one mutation broadcast from the originating device to the same
// user's other devices. The manager stamps DeviceID, UserID and Timestamp;
// Data is an opaque payload owned by the caller.
type Event struct {
	Type      EventType       `json:"type"`
	DeviceID  string          `json:"deviceId"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}
