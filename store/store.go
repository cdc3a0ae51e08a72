// Package store provides persistence for tickets and workflow runs
// behind a database-agnostic Driver interface, with sqlite and postgres
// implementations under store/db.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ticketflow/ticketflow/internal/profile"
)

// Store provides database access to all persisted objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate ensures the schema exists.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate schema")
	}
	return nil
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateTicket(ctx context.Context, create *Ticket) (*Ticket, error) {
	return s.driver.CreateTicket(ctx, create)
}

func (s *Store) ListTickets(ctx context.Context, find *FindTicket) ([]*Ticket, error) {
	return s.driver.ListTickets(ctx, find)
}

// GetTicket returns the ticket with the given ID, or nil when absent.
func (s *Store) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	tickets, err := s.driver.ListTickets(ctx, &FindTicket{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	return tickets[0], nil
}

func (s *Store) CreateWorkflowRun(ctx context.Context, create *WorkflowRun) (*WorkflowRun, error) {
	return s.driver.CreateWorkflowRun(ctx, create)
}

func (s *Store) ListWorkflowRuns(ctx context.Context, find *FindWorkflowRun) ([]*WorkflowRun, error) {
	return s.driver.ListWorkflowRuns(ctx, find)
}

// GetWorkflowRun returns the run with the given ID, or nil when absent.
func (s *Store) GetWorkflowRun(ctx context.Context, id string) (*WorkflowRun, error) {
	runs, err := s.driver.ListWorkflowRuns(ctx, &FindWorkflowRun{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}
