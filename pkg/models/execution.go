package models

import "time"

// Execution outcomes recorded in the idempotency ledger.
const (
	ExecutionOutcomeSucceeded = "succeeded"
	ExecutionOutcomeFailed    = "failed"
)

// ExecutionLogEntry is one row in the idempotency ledger. A script with an
// existing succeeded entry is a no-op on re-run unless force is set. The
// ledger is persisted so idempotency survives process restarts.
type ExecutionLogEntry struct {
	ID         string    `json:"id" db:"id"`
	ScriptName string    `json:"script_name" db:"script_name"`
	ExecutedAt time.Time `json:"executed_at" db:"executed_at"`
	Forced     bool      `json:"forced" db:"forced"`
	Outcome    string    `json:"outcome" db:"outcome"`
}
