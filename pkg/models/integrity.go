package models

import "time"

// IntegrityCheckResult is one appended row in the integrity history table.
// Rows are written on every run regardless of pass/fail and never mutated.
type IntegrityCheckResult struct {
	ID           string    `json:"id" db:"id"`
	CheckName    string    `json:"check_name" db:"check_name"`
	MeasuredRate float64   `json:"measured_rate" db:"measured_rate"`
	Threshold    float64   `json:"threshold" db:"threshold"`
	Passed       bool      `json:"passed" db:"passed"`
	MeasuredAt   time.Time `json:"measured_at" db:"measured_at"`
}
