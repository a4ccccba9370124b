package models

import (
	"time"
)

// Vote tables use (target, user) as the primary key, so the database itself
// guarantees at most one vote per user per target. Counts are always derived
// from these rows.

type IssueVote struct {
	IssueID   uint      `gorm:"primaryKey;autoIncrement:false" json:"issue_id"`
	UserLogin string    `gorm:"primaryKey;size:64" json:"user_login"`
	Issue     Issue     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type CommentVote struct {
	CommentID uint      `gorm:"primaryKey;autoIncrement:false" json:"comment_id"`
	UserLogin string    `gorm:"primaryKey;size:64" json:"user_login"`
	Comment   Comment   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type PollOptionVote struct {
	OptionID  uint       `gorm:"primaryKey;autoIncrement:false" json:"option_id"`
	UserLogin string     `gorm:"primaryKey;size:64" json:"user_login"`
	Option    PollOption `gorm:"foreignKey:OptionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}
