package store

import "time"

// Workflow run status values.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// WorkflowRun is one persisted workflow execution: the outcome summary
// plus the full response payload as JSON for audit and replay.
type WorkflowRun struct {
	ID          string // workflow ticket ID (UUID)
	TicketID    string
	Status      string
	Category    string
	Severity    string
	Team        string
	Priority    string
	DuplicateOf string
	DurationMs  int64
	Payload     []byte // serialized workflow response
	CreatedAt   time.Time
}

// FindWorkflowRun filters run queries. Nil fields are ignored.
type FindWorkflowRun struct {
	ID       *string
	TicketID *string
	Status   *string
	Team     *string
	Limit    *int
}
