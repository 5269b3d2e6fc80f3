package users

import (
	"strings"
	"time"
)

// Profile is the public identity attached to room members and message authors.
type Profile struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Provider   string    `gorm:"column:provider;size:32;not null;default:'default'" json:"-"`
	Name       string    `gorm:"column:name;size:320" json:"name"`
	Email      string    `gorm:"column:email;size:320;index" json:"email"`
	AvatarURL  string    `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	LastSeenAt time.Time `gorm:"column:last_seen_at" json:"-"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "profiles"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
