package domain

import "time"

// Tenant is the quota- and visibility-scoping unit.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
