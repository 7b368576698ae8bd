package domain

import "time"

// AllowedOrigin is an admin-managed record of a client origin permitted to
// receive cross-origin responses. The in-memory origin cache mirrors the
// active subset.
type AllowedOrigin struct {
	ID          int64     `json:"id,string"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
