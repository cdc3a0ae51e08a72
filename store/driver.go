package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver. It contains all methods that
// store methods rely on.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema when absent. Idempotent.
	Migrate(ctx context.Context) error

	CreateTicket(ctx context.Context, create *Ticket) (*Ticket, error)
	ListTickets(ctx context.Context, find *FindTicket) ([]*Ticket, error)

	CreateWorkflowRun(ctx context.Context, create *WorkflowRun) (*WorkflowRun, error)
	ListWorkflowRuns(ctx context.Context, find *FindWorkflowRun) ([]*WorkflowRun, error)
}
