package models

import (
	"time"
)

type Poll struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Title       string       `gorm:"size:150;not null" json:"title"`
	Description string       `gorm:"type:text" json:"description"`
	Archived    bool         `gorm:"default:false;not null;index" json:"archived"`
	Options     []PollOption `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"options,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type PollOption struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;index" json:"poll_id"`
	Text      string    `gorm:"size:200;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
