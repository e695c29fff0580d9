// internal/models/listing.go
package models

import (
	"github.com/google/uuid"
)

// Listing offers one piece of stored content for a fixed price. An owner can
// list a given content id only once.
type Listing struct {
	BaseModel
	ContentID   string    `json:"content_id,omitempty" gorm:"size:128;not null;uniqueIndex:idx_listing_content_owner"`
	OwnerID     uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_listing_content_owner"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Size        int64     `json:"size" gorm:"not null"`
	Price       int64     `json:"price" gorm:"not null;check:chk_listing_price_positive,price > 0"`
	Sales       int64     `json:"sales" gorm:"not null;default:0"`

	// Relationships
	Owner *Trader `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
}

// Public returns a copy safe to show to non-owners: the content id is only
// revealed through the download path.
func (l Listing) Public() Listing {
	l.ContentID = ""
	return l
}
