package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account holds the stored balance for one tenant. Balance only changes through settlement.
type Account struct {
	ID        int64           `json:"id" db:"id"`
	Email     string          `json:"email" db:"email"`
	Name      string          `json:"name" db:"name"`
	Role      string          `json:"role" db:"role"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Active    bool            `json:"active" db:"is_active"`
	Version   int             `json:"-" db:"version"` // for optimistic locking
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// NewAccount is the input for opening an account.
type NewAccount struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=120"`
	Role  string `json:"role" validate:"omitempty,oneof=admin user"`
}

// ParseRole accepts admin or user in any case. Empty and ALL mean no filter.
func ParseRole(s string) (string, bool) {
	switch r := strings.ToLower(strings.TrimSpace(s)); r {
	case "", "all":
		return "", true
	case RoleAdmin, RoleUser:
		return r, true
	}
	return "", false
}

// AccountFilter selects a page of accounts, newest first.
type AccountFilter struct {
	Role   string
	Limit  int
	Offset int
}
