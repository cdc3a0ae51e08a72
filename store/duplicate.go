package store

import (
	"context"
	"sort"
	"strings"

	"github.com/ticketflow/ticketflow/workflow"
)

const (
	// duplicateCandidateLimit bounds the candidate pool scanned per lookup.
	duplicateCandidateLimit = 50

	defaultDuplicateThreshold = 0.8
)

// DuplicateDetector finds prior tickets from the same customer whose text
// overlaps enough with a new submission to count as a resend. Similarity is
// word-set overlap weighted 70% subject, 30% body.
type DuplicateDetector struct {
	store     *Store
	threshold float64
}

var _ workflow.DuplicateDetector = (*DuplicateDetector)(nil)

func NewDuplicateDetector(store *Store, threshold float64) *DuplicateDetector {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultDuplicateThreshold
	}
	return &DuplicateDetector{store: store, threshold: threshold}
}

// FindDuplicate returns the most similar recent ticket at or above the
// threshold, or an empty ID when there is none. Tickets without a customer
// ID are never matched.
func (d *DuplicateDetector) FindDuplicate(ctx context.Context, ticket *workflow.TicketInput) (string, float64, error) {
	if ticket == nil || ticket.CustomerID == "" {
		return "", 0, nil
	}

	limit := duplicateCandidateLimit
	candidates, err := d.store.ListTickets(ctx, &FindTicket{
		CustomerID: &ticket.CustomerID,
		Limit:      &limit,
	})
	if err != nil {
		return "", 0, err
	}

	bestID := ""
	bestScore := 0.0
	for _, candidate := range candidates {
		score := combinedSimilarity(ticket.Subject, ticket.Body, candidate.Subject, candidate.Body)
		if score >= d.threshold && score > bestScore {
			bestID = candidate.ID
			bestScore = score
		}
	}
	if bestID == "" {
		return "", 0, nil
	}
	return bestID, bestScore, nil
}

// SimilarTickets returns all candidates at or above the threshold, most
// similar first.
func (d *DuplicateDetector) SimilarTickets(ctx context.Context, ticket *workflow.TicketInput, limit int) ([]*Ticket, []float64, error) {
	if ticket == nil || ticket.CustomerID == "" {
		return nil, nil, nil
	}

	pool := duplicateCandidateLimit
	candidates, err := d.store.ListTickets(ctx, &FindTicket{
		CustomerID: &ticket.CustomerID,
		Limit:      &pool,
	})
	if err != nil {
		return nil, nil, err
	}

	type scored struct {
		ticket *Ticket
		score  float64
	}
	var matches []scored
	for _, candidate := range candidates {
		score := combinedSimilarity(ticket.Subject, ticket.Body, candidate.Subject, candidate.Body)
		if score >= d.threshold {
			matches = append(matches, scored{ticket: candidate, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	tickets := make([]*Ticket, len(matches))
	scores := make([]float64, len(matches))
	for i, m := range matches {
		tickets[i] = m.ticket
		scores[i] = m.score
	}
	return tickets, scores, nil
}

func combinedSimilarity(subjectA, bodyA, subjectB, bodyB string) float64 {
	return jaccard(wordSet(subjectA), wordSet(subjectB))*0.7 + jaccard(wordSet(bodyA), wordSet(bodyB))*0.3
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
