// Package logkeys names the structured logging keys shared across goRenew.
// Token material is never logged under any key.
package logkeys

const (
	Principal = "principal"
	Attempt   = "attempt_id"
	Outcome   = "outcome"
	Shared    = "shared"
	Duration  = "duration"
	Attempts  = "attempts"
	State     = "state"
	Event     = "event"
)
