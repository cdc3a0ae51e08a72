package workflow

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rules is the immutable rule configuration shared by the deterministic
// stage paths: category keywords, severity indicators, team definitions,
// escalation paths, and per-category required fields. It is constructed
// once at startup by merging built-in defaults with optional YAML
// overrides (override wins per key) and injected into each stage
// component; it is never mutated afterwards.
type Rules struct {
	CategoryKeywords   map[string][]string
	SeverityIndicators map[string][]string
	RequiredFields     map[string][]string
	Teams              map[string]TeamDef
	// TeamOrder fixes the iteration order over Teams so routing is
	// deterministic. Earlier teams win category ties.
	TeamOrder       []string
	EscalationPaths map[string][]string
	CategoryTeamMap map[string]string
}

// TeamDef describes one routing target.
type TeamDef struct {
	Categories  []string `yaml:"categories"`
	Severities  []string `yaml:"severities"`
	Description string   `yaml:"description"`
	// PriorityModifier shifts the computed priority within the ordered
	// priority list, clamped at both ends.
	PriorityModifier int `yaml:"priority_modifier"`
}

func defaultCategoryKeywords() map[string][]string {
	return map[string][]string{
		"technical":       {"error", "bug", "crash", "not working", "failed", "broken", "issue", "problem"},
		"billing":         {"charge", "refund", "invoice", "payment", "subscription", "overcharged", "bill", "cost"},
		"account":         {"login", "password", "account", "access", "locked", "credentials", "sign in", "signin", "signup"},
		"feature_request": {"wish", "request", "feature", "enhancement", "suggest", "idea", "would like", "need"},
		"bug_report":      {"bug", "defect", "broken", "incorrect", "unexpected", "wrong", "does not work"},
		"general":         {"question", "help", "how to", "information", "inquiry", "wondering"},
	}
}

func defaultSeverityIndicators() map[string][]string {
	return map[string][]string{
		"critical": {"urgent", "asap", "critical", "down", "emergency", "production", "immediately", "serious"},
		"high":     {"important", "serious", "affecting", "quickly", "soon", "priority"},
		"medium":   {"issue", "problem", "help", "when possible"},
		"low":      {"minor", "small", "suggestion", "curious", "wondering", "sometime"},
	}
}

func defaultRequiredFields() map[string][]string {
	return map[string][]string{
		"technical":       {"error_code"},
		"billing":         {"order_id", "amount"},
		"account":         {"account_email"},
		"bug_report":      {"error_code"},
		"feature_request": {},
		"general":         {},
	}
}

func defaultTeams() map[string]TeamDef {
	return map[string]TeamDef{
		"technical_support": {
			Categories:  []string{"technical", "bug_report"},
			Description: "Technical issues, bugs, errors",
		},
		"billing_team": {
			Categories:  []string{"billing"},
			Description: "Payment, subscription, refund issues",
		},
		"account_management": {
			Categories:  []string{"account"},
			Description: "Account access, security, permissions",
		},
		"product_team": {
			Categories:       []string{"feature_request"},
			Description:      "Feature requests, product feedback",
			PriorityModifier: 1,
		},
		"escalation_team": {
			Severities:       []string{"critical"},
			Description:      "Critical issues requiring senior review",
			PriorityModifier: -1,
		},
	}
}

func defaultTeamOrder() []string {
	return []string{"technical_support", "billing_team", "account_management", "product_team", "escalation_team"}
}

func defaultEscalationPaths() map[string][]string {
	return map[string][]string{
		"technical_support":  {"senior_technical", "engineering_team"},
		"billing_team":       {"billing_manager", "finance_team"},
		"account_management": {"account_manager", "security_team"},
		"product_team":       {"product_manager"},
		"escalation_team":    {"senior_management"},
	}
}

func defaultCategoryTeamMap() map[string]string {
	return map[string]string{
		"technical":       "technical_support",
		"billing":         "billing_team",
		"account":         "account_management",
		"feature_request": "product_team",
		"bug_report":      "technical_support",
		"general":         "technical_support",
	}
}

// DefaultRules returns the built-in rule tables, without overrides.
func DefaultRules() *Rules {
	return &Rules{
		CategoryKeywords:   defaultCategoryKeywords(),
		SeverityIndicators: defaultSeverityIndicators(),
		RequiredFields:     defaultRequiredFields(),
		Teams:              defaultTeams(),
		TeamOrder:          defaultTeamOrder(),
		EscalationPaths:    defaultEscalationPaths(),
		CategoryTeamMap:    defaultCategoryTeamMap(),
	}
}

// Override file shapes. Each file is optional; a missing file leaves the
// corresponding defaults untouched.
type categoriesFile struct {
	Categories []struct {
		ID       string   `yaml:"id"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"categories"`
}

type severitiesFile struct {
	Severities []struct {
		ID         string   `yaml:"id"`
		Indicators []string `yaml:"indicators"`
	} `yaml:"severities"`
}

type routingFile struct {
	Teams []struct {
		Name    string `yaml:"name"`
		TeamDef `yaml:",inline"`
	} `yaml:"teams"`
	EscalationPaths map[string][]string `yaml:"escalation_paths"`
}

// LoadRules builds the rule configuration from defaults merged with any
// YAML overrides found in dir. An empty dir returns the defaults.
func LoadRules(dir string) *Rules {
	rules := DefaultRules()
	if dir == "" {
		return rules
	}

	var cats categoriesFile
	if readYAML(filepath.Join(dir, "categories.yaml"), &cats) {
		for _, c := range cats.Categories {
			if c.ID != "" && len(c.Keywords) > 0 {
				rules.CategoryKeywords[c.ID] = c.Keywords
			}
		}
	}

	var sevs severitiesFile
	if readYAML(filepath.Join(dir, "severities.yaml"), &sevs) {
		for _, s := range sevs.Severities {
			if s.ID != "" && len(s.Indicators) > 0 {
				rules.SeverityIndicators[s.ID] = s.Indicators
			}
		}
	}

	var routing routingFile
	if readYAML(filepath.Join(dir, "routing_rules.yaml"), &routing) {
		if len(routing.Teams) > 0 {
			teams := make(map[string]TeamDef, len(routing.Teams))
			order := make([]string, 0, len(routing.Teams))
			for _, t := range routing.Teams {
				if t.Name == "" {
					continue
				}
				if _, ok := teams[t.Name]; !ok {
					order = append(order, t.Name)
				}
				teams[t.Name] = t.TeamDef
			}
			rules.Teams = teams
			rules.TeamOrder = order
		}
		if len(routing.EscalationPaths) > 0 {
			rules.EscalationPaths = routing.EscalationPaths
		}
	}

	slog.Debug("workflow: rules loaded",
		"categories", len(rules.CategoryKeywords),
		"severities", len(rules.SeverityIndicators),
		"teams", len(rules.Teams))
	return rules
}

func readYAML(path string, out any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("workflow: failed to read rules file", "path", path, "error", err)
		}
		return false
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		slog.Warn("workflow: failed to parse rules file", "path", path, "error", err)
		return false
	}
	return true
}
