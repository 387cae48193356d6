package identity

import (
	"strings"
	"time"
)

// User is an authenticated actor. Everything above this package sees
// only the opaque ID.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Handle       string    `gorm:"column:handle;size:80;not null;uniqueIndex"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

func normalizeHandle(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
