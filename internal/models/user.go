package models

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is keyed by the campus login. Users are never deleted; demotion resets Role.
type User struct {
	Login     string    `gorm:"primaryKey;size:64" json:"login"`
	Role      Role      `gorm:"size:10;default:'USER';not null" json:"role"`
	Picture   string    `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a server-side login session. The cookie only carries Token.
type Session struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Token     string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	UserLogin string    `gorm:"not null;index;size:64" json:"user_login"`
	User      User      `gorm:"foreignKey:UserLogin;references:Login;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// CouncilMember rows grant the ADMIN role to the matching user.
type CouncilMember struct {
	Login     string    `gorm:"primaryKey;size:64" json:"login"`
	FirstName string    `gorm:"size:100;not null" json:"first_name"`
	LastName  string    `gorm:"size:100;not null" json:"last_name"`
	Email     string    `gorm:"size:200;not null" json:"email"`
	Picture   string    `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
}
