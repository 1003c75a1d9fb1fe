package family

import (
	"encoding/json"
	"time"
)

// UpdateType enumerates shopping-list updates shared with family members.
type UpdateType string

const (
	UpdateItemAdded       UpdateType = "item_added"
	UpdateItemRemoved     UpdateType = "item_removed"
	UpdateItemChecked     UpdateType = "item_checked"
	UpdateItemScanned     UpdateType = "item_scanned"
	UpdateQuantityChanged UpdateType = "quantity_changed"
)

// Channel topics used by the family session.
const (
	TopicShoppingListUpdate = "shopping_list_update"
	TopicFamilyInvitation   = "family_invitation"
)

// Update is one shopping-list change broadcast to the family as an activity
// feed entry. Unlike device sync events, updates are not filtered by origin:
// the sender's own session receives them too.
type Update struct {
	Type      UpdateType      `json:"type"`
	ItemID    string          `json:"itemId"`
	ItemName  string          `json:"itemName"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Member is one family participant currently present on the channel.
// Membership is derived from transport presence and never persisted.
type Member struct {
	UserID   string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Avatar   string    `json:"avatar,omitempty"`
	IsActive bool      `json:"isActive"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// invitationNotice is the realtime payload sent after an invitation row is
// persisted.
type invitationNotice struct {
	Type      string    `json:"type"`
	Email     string    `json:"email"`
	InvitedBy string    `json:"invitedBy"`
	Timestamp time.Time `json:"timestamp"`
}
