package store

import "time"

// Ticket is a persisted support ticket. Category and severity are filled
// in after classification; until then they hold the raw defaults.
type Ticket struct {
	ID            string
	CustomerID    string
	CustomerEmail string
	Subject       string
	Body          string
	Category      string
	Severity      string
	CreatedAt     time.Time
}

// FindTicket filters ticket queries. Nil fields are ignored.
type FindTicket struct {
	ID           *string
	CustomerID   *string
	Category     *string
	CreatedAfter *time.Time
	Limit        *int
}
