package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Link is one internal URL known for a Profile, sourced from a sitemap
// crawl or generated by a completed Post.
type Link struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProfileID uuid.UUID  `gorm:"type:uuid;column:profile_id;not null;index:idx_links_profile_url,unique" json:"profile_id"`
	URL       string     `gorm:"column:url;type:text;not null;index:idx_links_profile_url,unique" json:"url"`
	Title     string     `gorm:"column:title;type:text" json:"title,omitempty"`
	Slug      string     `gorm:"column:slug;type:varchar(255)" json:"slug,omitempty"`
	Source    string     `gorm:"column:source;type:varchar(20);default:'sitemap'" json:"source"`
	PostID    *uuid.UUID `gorm:"type:uuid;column:post_id" json:"post_id,omitempty"`
	Keywords  datatypes.JSON `gorm:"column:keywords;type:jsonb;default:'[]'" json:"keywords"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Link) TableName() string { return "internal_links" }
