package models

import (
	"time"
)

// Issue is an anonymous report. The author is intentionally not stored.
type Issue struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:150;not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Archived    bool      `gorm:"default:false;not null;index" json:"archived"`
	CreatedAt   time.Time `json:"created_at"`

	// Webhook message ids used to thread follow-up notifications.
	CouncilMessageID string `gorm:"size:32" json:"-"`
	StudentMessageID string `gorm:"size:32" json:"-"`
}

type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IssueID   uint      `gorm:"not null;index" json:"issue_id"`
	Issue     Issue     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Official  bool      `gorm:"default:false;not null" json:"official"`
	CreatedAt time.Time `json:"created_at"`
}
