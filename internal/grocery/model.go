package grocery

import "time"

// SavedList is a named snapshot of a user's shopping list, kept so a list
// assembled from a recipe or a past trip can be reloaded later. Items are
// stored as a JSON document; rows are immutable once written.
type SavedList struct {
	ListID    string    `gorm:"column:list_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320;not null"`
	Source    string    `gorm:"column:source;size:320"`
	ItemCount int       `gorm:"column:item_count;not null"`
	ItemsJSON string    `gorm:"column:items_json;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing saved shopping lists.
func (SavedList) TableName() string {
	return "saved_shopping_lists"
}
