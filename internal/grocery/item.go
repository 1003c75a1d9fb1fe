package grocery

import "time"

// ItemSource records how an item entered the list.
type ItemSource string

const (
	SourceManual  ItemSource = "manual"
	SourceWebsite ItemSource = "website"
	SourceCamera  ItemSource = "camera"
	SourceUpload  ItemSource = "upload"
)

// Item is one shopping-list entry snapshot. It is the unit stored inside
// family list rows and carried as the opaque payload of sync broadcasts.
// Enrichment fields (price, barcode, brand, size) are filled in by external
// lookup collaborators and treated as opaque here.
type Item struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Price         float64    `json:"price,omitempty"`
	Quantity      int        `json:"quantity,omitempty"`
	Category      string     `json:"category,omitempty"`
	Barcode       string     `json:"barcode,omitempty"`
	Brand         string     `json:"brand,omitempty"`
	Size          string     `json:"size,omitempty"`
	IsFromRecipe  bool       `json:"isFromRecipe,omitempty"`
	SourceType    ItemSource `json:"sourceType,omitempty"`
	SourceURL     string     `json:"sourceUrl,omitempty"`
	IsInCart      bool       `json:"isInCart,omitempty"`
	IsScanned     bool       `json:"isScanned,omitempty"`
	AddedBy       string     `json:"addedBy,omitempty"`
	AddedByName   string     `json:"addedByName,omitempty"`
	CheckedBy     string     `json:"checkedBy,omitempty"`
	CheckedByName string     `json:"checkedByName,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}
