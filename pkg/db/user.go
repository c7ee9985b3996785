package db

import "time"

// User is an account owner. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"size:200;not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:254;not null"`
	PasswordHash string    `json:"-" gorm:"size:100;not null"`
	Status       string    `json:"status" gorm:"size:20;default:'pending_payment'"` // active, pending_payment
	IsAdmin      bool      `json:"is_admin" gorm:"default:false"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// User status
const (
	UserStatusActive         = "active"
	UserStatusPendingPayment = "pending_payment"
)
