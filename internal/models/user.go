package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the account owning wallets and ledger entries. Session and
// profile management live outside this service; only the fields the
// billing boundary needs are modeled here.
type User struct {
	gorm.Model
	Email       string `gorm:"uniqueIndex;not null"`
	Password    string `gorm:"not null"`
	Name        string
	Role        string `gorm:"default:'user'"`
	Status      string `gorm:"default:'active'"`
	LastLoginAt time.Time
}
