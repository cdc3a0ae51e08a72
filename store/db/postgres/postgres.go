// Package postgres implements store.Driver on PostgreSQL. This is the
// recommended driver for production deployments.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/ticketflow/ticketflow/internal/profile"
	"github.com/ticketflow/ticketflow/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database using the DSN from the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	postgresDB.SetMaxOpenConns(25)
	postgresDB.SetMaxIdleConns(5)
	postgresDB.SetConnMaxLifetime(30 * time.Minute)

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the positional parameter marker for index i.
func placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

const schema = `
CREATE TABLE IF NOT EXISTS ticket (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticket_customer_id ON ticket (customer_id);

CREATE TABLE IF NOT EXISTS workflow_run (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	duplicate_of TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	payload BYTEA,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_run_ticket_id ON workflow_run (ticket_id);
`

// Migrate creates the schema when absent. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (d *DB) CreateTicket(ctx context.Context, create *store.Ticket) (*store.Ticket, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now().UTC()
	}

	stmt := `INSERT INTO ticket (id, customer_id, customer_email, subject, body, category, severity, created_ts)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` +
		placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `)`

	_, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.CustomerID, create.CustomerEmail, create.Subject,
		create.Body, create.Category, create.Severity, create.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	return create, nil
}

func (d *DB) ListTickets(ctx context.Context, find *store.FindTicket) ([]*store.Ticket, error) {
	query := `SELECT id, customer_id, customer_email, subject, body, category, severity, created_ts
		FROM ticket WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if find.ID != nil {
		query += fmt.Sprintf(" AND id = %s", placeholder(argIdx))
		args = append(args, *find.ID)
		argIdx++
	}
	if find.CustomerID != nil {
		query += fmt.Sprintf(" AND customer_id = %s", placeholder(argIdx))
		args = append(args, *find.CustomerID)
		argIdx++
	}
	if find.Category != nil {
		query += fmt.Sprintf(" AND category = %s", placeholder(argIdx))
		args = append(args, *find.Category)
		argIdx++
	}
	if find.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_ts > %s", placeholder(argIdx))
		args = append(args, find.CreatedAfter.Unix())
	}

	query += " ORDER BY created_ts DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*store.Ticket
	for rows.Next() {
		var ticket store.Ticket
		var createdTs int64
		err := rows.Scan(&ticket.ID, &ticket.CustomerID, &ticket.CustomerEmail,
			&ticket.Subject, &ticket.Body, &ticket.Category, &ticket.Severity, &createdTs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		ticket.CreatedAt = time.Unix(createdTs, 0).UTC()
		tickets = append(tickets, &ticket)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket rows: %w", err)
	}

	return tickets, nil
}

func (d *DB) CreateWorkflowRun(ctx context.Context, create *store.WorkflowRun) (*store.WorkflowRun, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now().UTC()
	}

	columns := []string{"id", "ticket_id", "status", "category", "severity", "team", "priority", "duplicate_of", "duration_ms", "payload", "created_ts"}
	markers := make([]string, len(columns))
	for i := range columns {
		markers[i] = placeholder(i + 1)
	}
	stmt := `INSERT INTO workflow_run (` + strings.Join(columns, ", ") + `) VALUES (` + strings.Join(markers, ", ") + `)`

	_, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TicketID, create.Status, create.Category, create.Severity,
		create.Team, create.Priority, create.DuplicateOf, create.DurationMs,
		create.Payload, create.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}

	return create, nil
}

func (d *DB) ListWorkflowRuns(ctx context.Context, find *store.FindWorkflowRun) ([]*store.WorkflowRun, error) {
	query := `SELECT id, ticket_id, status, category, severity, team, priority, duplicate_of, duration_ms, payload, created_ts
		FROM workflow_run WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if find.ID != nil {
		query += fmt.Sprintf(" AND id = %s", placeholder(argIdx))
		args = append(args, *find.ID)
		argIdx++
	}
	if find.TicketID != nil {
		query += fmt.Sprintf(" AND ticket_id = %s", placeholder(argIdx))
		args = append(args, *find.TicketID)
		argIdx++
	}
	if find.Status != nil {
		query += fmt.Sprintf(" AND status = %s", placeholder(argIdx))
		args = append(args, *find.Status)
		argIdx++
	}
	if find.Team != nil {
		query += fmt.Sprintf(" AND team = %s", placeholder(argIdx))
		args = append(args, *find.Team)
	}

	query += " ORDER BY created_ts DESC"
	if find.Limit != nil && *find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.WorkflowRun
	for rows.Next() {
		var run store.WorkflowRun
		var createdTs int64
		err := rows.Scan(&run.ID, &run.TicketID, &run.Status, &run.Category, &run.Severity,
			&run.Team, &run.Priority, &run.DuplicateOf, &run.DurationMs, &run.Payload, &createdTs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}
		run.CreatedAt = time.Unix(createdTs, 0).UTC()
		runs = append(runs, &run)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow run rows: %w", err)
	}

	return runs, nil
}
