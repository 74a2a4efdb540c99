package domain

import "time"

// ModuleDescriptor describes a workflow module from the catalog.
type ModuleDescriptor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Endpoint    string      `json:"endpoint"`
	TriggerType TriggerType `json:"trigger_type,omitempty"`
	PremiumOnly bool        `json:"premium_only"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Profile is the identity record of a user as seen by the dispatcher.
type Profile struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	PlanName      string    `json:"plan_name"`
	CreditBalance float64   `json:"credit_balance"`
	Status        string    `json:"status"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
