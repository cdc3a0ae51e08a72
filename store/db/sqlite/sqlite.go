// Package sqlite implements store.Driver on an embedded SQLite database.
// It targets development and single-instance deployments; production
// setups should prefer the postgres driver.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/ticketflow/ticketflow/internal/profile"
	"github.com/ticketflow/ticketflow/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No foreign key constraints: explicit to prevent surprises on SQLite upgrades.
	// - Journal mode set to WAL: the recommended journal mode as it prevents locking issues.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	//
	// References:
	// - https://pkg.go.dev/modernc.org/sqlite#Driver.Open
	// - https://www.sqlite.org/pragma.html
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite handles concurrency through WAL; a single connection avoids
	// SQLITE_BUSY under concurrent writes.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
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
	payload BLOB,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_run_ticket_id ON workflow_run (ticket_id);
`

// Migrate creates the schema when absent. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
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

	stmt := `
		INSERT INTO ticket (id, customer_id, customer_email, subject, body, category, severity, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.CustomerID,
		create.CustomerEmail,
		create.Subject,
		create.Body,
		create.Category,
		create.Severity,
		create.CreatedAt.Unix(),
	); err != nil {
		return nil, errors.Wrap(err, "failed to insert ticket")
	}

	return create, nil
}

func (d *DB) ListTickets(ctx context.Context, find *store.FindTicket) ([]*store.Ticket, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.CustomerID; v != nil {
		where, args = append(where, "customer_id = ?"), append(args, *v)
	}
	if v := find.Category; v != nil {
		where, args = append(where, "category = ?"), append(args, *v)
	}
	if v := find.CreatedAfter; v != nil {
		where, args = append(where, "created_ts > ?"), append(args, v.Unix())
	}

	query := `
		SELECT id, customer_id, customer_email, subject, body, category, severity, created_ts
		FROM ticket
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tickets")
	}
	defer rows.Close()

	list := []*store.Ticket{}
	for rows.Next() {
		ticket := &store.Ticket{}
		var createdTs int64
		if err := rows.Scan(
			&ticket.ID,
			&ticket.CustomerID,
			&ticket.CustomerEmail,
			&ticket.Subject,
			&ticket.Body,
			&ticket.Category,
			&ticket.Severity,
			&createdTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan ticket")
		}
		ticket.CreatedAt = time.Unix(createdTs, 0).UTC()
		list = append(list, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}

	return list, nil
}

func (d *DB) CreateWorkflowRun(ctx context.Context, create *store.WorkflowRun) (*store.WorkflowRun, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now().UTC()
	}

	stmt := `
		INSERT INTO workflow_run (id, ticket_id, status, category, severity, team, priority, duplicate_of, duration_ms, payload, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.TicketID,
		create.Status,
		create.Category,
		create.Severity,
		create.Team,
		create.Priority,
		create.DuplicateOf,
		create.DurationMs,
		create.Payload,
		create.CreatedAt.Unix(),
	); err != nil {
		return nil, errors.Wrap(err, "failed to insert workflow run")
	}

	return create, nil
}

func (d *DB) ListWorkflowRuns(ctx context.Context, find *store.FindWorkflowRun) ([]*store.WorkflowRun, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.TicketID; v != nil {
		where, args = append(where, "ticket_id = ?"), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "status = ?"), append(args, *v)
	}
	if v := find.Team; v != nil {
		where, args = append(where, "team = ?"), append(args, *v)
	}

	query := `
		SELECT id, ticket_id, status, category, severity, team, priority, duplicate_of, duration_ms, payload, created_ts
		FROM workflow_run
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workflow runs")
	}
	defer rows.Close()

	list := []*store.WorkflowRun{}
	for rows.Next() {
		run := &store.WorkflowRun{}
		var createdTs int64
		if err := rows.Scan(
			&run.ID,
			&run.TicketID,
			&run.Status,
			&run.Category,
			&run.Severity,
			&run.Team,
			&run.Priority,
			&run.DuplicateOf,
			&run.DurationMs,
			&run.Payload,
			&createdTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan workflow run")
		}
		run.CreatedAt = time.Unix(createdTs, 0).UTC()
		list = append(list, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}

	return list, nil
}
