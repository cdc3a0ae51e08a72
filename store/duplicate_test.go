package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketflow/ticketflow/workflow"
)

// memoryDriver is an in-memory Driver for tests.
type memoryDriver struct {
	tickets []*Ticket
	runs    []*WorkflowRun
	err     error
}

func (m *memoryDriver) GetDB() *sql.DB                    { return nil }
func (m *memoryDriver) Close() error                      { return nil }
func (m *memoryDriver) Migrate(ctx context.Context) error { return nil }

func (m *memoryDriver) CreateTicket(ctx context.Context, create *Ticket) (*Ticket, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tickets = append(m.tickets, create)
	return create, nil
}

func (m *memoryDriver) ListTickets(ctx context.Context, find *FindTicket) ([]*Ticket, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*Ticket
	for _, t := range m.tickets {
		if find.ID != nil && t.ID != *find.ID {
			continue
		}
		if find.CustomerID != nil && t.CustomerID != *find.CustomerID {
			continue
		}
		if find.Category != nil && t.Category != *find.Category {
			continue
		}
		out = append(out, t)
	}
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (m *memoryDriver) CreateWorkflowRun(ctx context.Context, create *WorkflowRun) (*WorkflowRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.runs = append(m.runs, create)
	return create, nil
}

func (m *memoryDriver) ListWorkflowRuns(ctx context.Context, find *FindWorkflowRun) ([]*WorkflowRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*WorkflowRun
	for _, r := range m.runs {
		if find.ID != nil && r.ID != *find.ID {
			continue
		}
		if find.TicketID != nil && r.TicketID != *find.TicketID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func TestCombinedSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		subjectA string
		bodyA    string
		subjectB string
		bodyB    string
		expected float64
	}{
		{
			name:     "identical text",
			subjectA: "Login broken",
			bodyA:    "Cannot sign in",
			subjectB: "Login broken",
			bodyB:    "Cannot sign in",
			expected: 1.0,
		},
		{
			name:     "no overlap",
			subjectA: "Login broken",
			bodyA:    "Cannot sign in",
			subjectB: "Refund request",
			bodyB:    "Charged twice",
			expected: 0.0,
		},
		{
			name:     "same subject different body",
			subjectA: "Login broken",
			bodyA:    "aaa bbb",
			subjectB: "Login broken",
			bodyB:    "ccc ddd",
			expected: 0.7,
		},
		{
			name:     "case insensitive",
			subjectA: "LOGIN BROKEN",
			bodyA:    "CANNOT SIGN IN",
			subjectB: "login broken",
			bodyB:    "cannot sign in",
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := combinedSimilarity(tt.subjectA, tt.bodyA, tt.subjectB, tt.bodyB)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestFindDuplicate(t *testing.T) {
	driver := &memoryDriver{
		tickets: []*Ticket{
			{ID: "t1", CustomerID: "c1", Subject: "Login broken", Body: "Cannot sign in to my account", CreatedAt: time.Now()},
			{ID: "t2", CustomerID: "c1", Subject: "Refund request", Body: "I was charged twice", CreatedAt: time.Now()},
			{ID: "t3", CustomerID: "c2", Subject: "Login broken", Body: "Cannot sign in to my account", CreatedAt: time.Now()},
		},
	}
	detector := NewDuplicateDetector(New(driver, nil), 0.8)

	ctx := context.Background()

	// Exact resend from the same customer matches the stored ticket.
	id, score, err := detector.FindDuplicate(ctx, &workflow.TicketInput{
		CustomerID: "c1",
		Subject:    "Login broken",
		Body:       "Cannot sign in to my account",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
	assert.InDelta(t, 1.0, score, 1e-9)

	// A different complaint from the same customer does not match.
	id, score, err = detector.FindDuplicate(ctx, &workflow.TicketInput{
		CustomerID: "c1",
		Subject:    "Feature idea",
		Body:       "Please add dark mode",
	})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, score)

	// Another customer's identical ticket is not a duplicate.
	id, _, err = detector.FindDuplicate(ctx, &workflow.TicketInput{
		CustomerID: "c3",
		Subject:    "Login broken",
		Body:       "Cannot sign in to my account",
	})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestFindDuplicateNoCustomerID(t *testing.T) {
	driver := &memoryDriver{}
	detector := NewDuplicateDetector(New(driver, nil), 0.8)

	id, score, err := detector.FindDuplicate(context.Background(), &workflow.TicketInput{
		Subject: "Login broken",
		Body:    "Cannot sign in",
	})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, score)
}

func TestSimilarTicketsOrdering(t *testing.T) {
	driver := &memoryDriver{
		tickets: []*Ticket{
			{ID: "weak", CustomerID: "c1", Subject: "Login broken today", Body: "something unrelated entirely here"},
			{ID: "strong", CustomerID: "c1", Subject: "Login broken", Body: "Cannot sign in"},
		},
	}
	detector := NewDuplicateDetector(New(driver, nil), 0.3)

	tickets, scores, err := detector.SimilarTickets(context.Background(), &workflow.TicketInput{
		CustomerID: "c1",
		Subject:    "Login broken",
		Body:       "Cannot sign in",
	}, 5)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "strong", tickets[0].ID)
	assert.Greater(t, scores[0], scores[1])
}

func TestNewDuplicateDetectorThresholdDefault(t *testing.T) {
	d := NewDuplicateDetector(New(&memoryDriver{}, nil), 0)
	assert.InDelta(t, defaultDuplicateThreshold, d.threshold, 1e-9)

	d = NewDuplicateDetector(New(&memoryDriver{}, nil), 1.5)
	assert.InDelta(t, defaultDuplicateThreshold, d.threshold, 1e-9)
}
