package models

import "time"

// Branch is a canonical office location. Raw rows carry free-form branch
// strings (decorated, inconsistently cased); Name holds the normalized form
// and DisplayName the cleanest raw spelling seen so far.
type Branch struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
