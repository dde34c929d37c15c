package model

import "time"

type Family struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// NotifyEmail receives approval requests; empty disables email.
	NotifyEmail string    `json:"notify_email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Child struct {
	ID        string     `json:"id"`
	FamilyID  string     `json:"family_id"`
	Name      string     `json:"name"`
	HasPIN    bool       `json:"has_pin"`
	Birthdate *time.Time `json:"birthdate,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
