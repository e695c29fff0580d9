// internal/models/trader.go
package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Trader is a marketplace identity bound to one ledger account.
type Trader struct {
	BaseModel
	Name         string       `json:"name" gorm:"uniqueIndex;size:64;not null"`
	Account      string       `json:"account" gorm:"uniqueIndex;size:42;not null"`
	PasswordHash string       `json:"-" gorm:"size:128;not null"`
	Status       TraderStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	LastLoginAt  *time.Time   `json:"last_login_at"`

	// Relationships
	Listings []Listing `json:"listings,omitempty" gorm:"foreignKey:OwnerID"`
}

// BeforeSave keeps accounts lowercase so uniqueness does not depend on hex
// case.
func (t *Trader) BeforeSave(tx *gorm.DB) error {
	t.Account = strings.ToLower(strings.TrimSpace(t.Account))
	return nil
}

func (t *Trader) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	t.PasswordHash = string(hashedPassword)
	return nil
}

func (t *Trader) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(t.PasswordHash), []byte(password))
}
