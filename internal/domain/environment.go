package domain

import "time"

// Environment is the tenant isolation scope. Callers authenticate with the
// environment's secret key and every connection lookup is filtered by its ID.
type Environment struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SecretKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
