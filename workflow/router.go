package workflow

import (
	"fmt"
	"strings"
)

// severityPriorityMap translates ticket severity into queue priority
// before team modifiers apply.
var severityPriorityMap = map[string]string{
	"critical": "urgent",
	"high":     "high",
	"medium":   "normal",
	"low":      "low",
}

// Router assigns tickets to teams. Routing is fully deterministic; it
// never consults the AI client.
type Router struct {
	rules *Rules
}

func NewRouter(rules *Rules) *Router {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Router{rules: rules}
}

// Route picks a team from category and severity. Critical severity
// short-circuits to the escalation team with urgent priority regardless
// of category.
func (r *Router) Route(category, severity string, fields map[string]any) *RoutingDecision {
	if severity == "critical" {
		return &RoutingDecision{
			Team:             "escalation_team",
			Priority:         "urgent",
			Reasoning:        "Critical severity requires escalation team",
			AlternativeTeams: []string{"technical_support"},
			EscalationPath:   r.rules.EscalationPaths["escalation_team"],
			Confidence:       0.95,
		}
	}

	team := r.teamByCategory(category)

	priority, ok := severityPriorityMap[severity]
	if !ok {
		priority = "normal"
	}
	priority = r.applyPriorityModifier(team, priority)

	return &RoutingDecision{
		Team:             team,
		Priority:         priority,
		Reasoning:        r.buildReasoning(team, category, severity, fields),
		AlternativeTeams: r.alternativeTeams(category, team),
		EscalationPath:   r.rules.EscalationPaths[team],
		Confidence:       r.confidence(category, severity),
	}
}

// teamByCategory scans teams in order, skipping the escalation team which
// only matches on severity, then falls back to the static category map.
func (r *Router) teamByCategory(category string) string {
	for _, name := range r.rules.TeamOrder {
		if name == "escalation_team" {
			continue
		}
		if containsString(r.rules.Teams[name].Categories, category) {
			return name
		}
	}
	if team, ok := r.rules.CategoryTeamMap[category]; ok {
		return team
	}
	return "technical_support"
}

// applyPriorityModifier shifts priority by the team's modifier within the
// ordered priority list, clamped at both ends.
func (r *Router) applyPriorityModifier(team, priority string) string {
	modifier := r.rules.Teams[team].PriorityModifier
	if modifier == 0 {
		return priority
	}

	idx := 1
	for i, p := range PriorityLevels {
		if p == priority {
			idx = i
			break
		}
	}

	idx += modifier
	if idx < 0 {
		idx = 0
	}
	if idx > len(PriorityLevels)-1 {
		idx = len(PriorityLevels) - 1
	}
	return PriorityLevels[idx]
}

// alternativeTeams lists up to two other teams whose category list covers
// this ticket. With no category match, technical_support backfills as the
// generalist alternative.
func (r *Router) alternativeTeams(category, primary string) []string {
	var alternatives []string
	for _, name := range r.rules.TeamOrder {
		if name == primary || name == "escalation_team" {
			continue
		}
		if containsString(r.rules.Teams[name].Categories, category) {
			alternatives = append(alternatives, name)
			if len(alternatives) == 2 {
				return alternatives
			}
		}
	}
	if len(alternatives) == 0 && primary != "technical_support" {
		alternatives = append(alternatives, "technical_support")
	}
	return alternatives
}

func (r *Router) buildReasoning(team, category, severity string, fields map[string]any) string {
	parts := []string{fmt.Sprintf("Routed to %s", team)}

	if desc := r.rules.Teams[team].Description; desc != "" {
		parts = append(parts, fmt.Sprintf("(%s)", desc))
	}
	parts = append(parts, fmt.Sprintf("based on %s category", category))

	if severity == "critical" || severity == "high" {
		parts = append(parts, fmt.Sprintf("with %s priority", severity))
	}

	if len(fields) > 0 {
		names := make([]string, 0, 3)
		for _, fp := range fieldPatterns {
			if _, ok := fields[fp.name]; ok {
				names = append(names, fp.name)
				if len(names) == 3 {
					break
				}
			}
		}
		if _, ok := fields["priority_keywords"]; ok && len(names) < 3 {
			names = append(names, "priority_keywords")
		}
		if len(names) > 0 {
			parts = append(parts, "and detected fields: "+strings.Join(names, ", "))
		}
	}

	return strings.Join(parts, " ") + "."
}

// confidence starts at 0.8, boosted when a team's category list covers
// the ticket and when severity makes routing unambiguous, capped at 0.95.
func (r *Router) confidence(category, severity string) float64 {
	confidence := 0.8

	for _, name := range r.rules.TeamOrder {
		if containsString(r.rules.Teams[name].Categories, category) {
			confidence += 0.1
			break
		}
	}
	if severity == "critical" || severity == "high" {
		confidence += 0.05
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

// Teams returns the configured team names in routing order.
func (r *Router) Teams() []string {
	return append([]string(nil), r.rules.TeamOrder...)
}

// EscalationPath returns the escalation chain for a team, or nil when the
// team has none.
func (r *Router) EscalationPath(team string) []string {
	return r.rules.EscalationPaths[team]
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
