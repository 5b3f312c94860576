package entity

import "time"

// Company owns users, one workflow definition and, through its users, expenses
type Company struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DefaultCurrency string    `json:"default_currency"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// User is an employee, manager or admin of a company
type User struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	ManagerID    *string   `json:"manager_id,omitempty"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasManager reports whether the user has a reporting line
func (u *User) HasManager() bool {
	return u.ManagerID != nil && *u.ManagerID != ""
}
