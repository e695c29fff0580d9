// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the primary key in Go so the same schema works on
// databases without gen_random_uuid().
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB stores a free-form document as JSON text.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(raw, j)
}

// Enums
type TraderStatus string

const (
	TraderStatusActive    TraderStatus = "active"
	TraderStatusSuspended TraderStatus = "suspended"
)

// OrderState is the lifecycle position of a purchase order.
type OrderState string

const (
	// OrderStateCreated only exists between channel open and the first
	// save; persisted orders never carry it.
	OrderStateCreated              OrderState = "created"
	OrderStateAwaitingVerification OrderState = "awaiting_verification"
	OrderStateAwaitingClosure      OrderState = "awaiting_closure"
	OrderStateSettled              OrderState = "settled"
)

func (s OrderState) Valid() bool {
	switch s {
	case OrderStateCreated, OrderStateAwaitingVerification, OrderStateAwaitingClosure, OrderStateSettled:
		return true
	}
	return false
}

// OrderRole selects which side of an order a history query is about.
type OrderRole string

const (
	OrderRoleBuyer    OrderRole = "buyer"
	OrderRoleSeller   OrderRole = "seller"
	OrderRoleVerifier OrderRole = "verifier"
)
