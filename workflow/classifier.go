package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Classifier assigns a category and severity to a ticket, with an
// AI-backed path gated on confidence and a rule-based keyword fallback.
type Classifier struct {
	ai                  AIClient
	enableAI            bool
	confidenceThreshold float64
	rules               *Rules

	// Compiled word-boundary matchers, one per keyword/indicator.
	categoryMatchers map[string][]keywordMatcher
	severityMatchers map[string][]keywordMatcher
}

type keywordMatcher struct {
	keyword string
	re      *regexp.Regexp
}

func compileKeywordMatchers(table map[string][]string) map[string][]keywordMatcher {
	matchers := make(map[string][]keywordMatcher, len(table))
	for key, keywords := range table {
		ms := make([]keywordMatcher, 0, len(keywords))
		for _, kw := range keywords {
			re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`)
			ms = append(ms, keywordMatcher{keyword: kw, re: re})
		}
		matchers[key] = ms
	}
	return matchers
}

// NewClassifier creates a classifier. enableAI is the instance default for
// the three-way AIMode override; threshold is the minimum AI category
// confidence below which the AI result is discarded.
func NewClassifier(ai AIClient, enableAI bool, threshold float64, rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{
		ai:                  ai,
		enableAI:            enableAI,
		confidenceThreshold: threshold,
		rules:               rules,
		categoryMatchers:    compileKeywordMatchers(rules.CategoryKeywords),
		severityMatchers:    compileKeywordMatchers(rules.SeverityIndicators),
	}
}

// Classify assigns category and severity. The AI path is tried first when
// enabled; its result is kept only if category confidence clears the
// threshold. Any AI failure or low-confidence result falls through to the
// rule-based path, which never fails. The trace records whether the
// fallback ran and why.
func (c *Classifier) Classify(ctx context.Context, subject, body string, mode AIMode) (*ClassificationResult, *StageTrace) {
	trace := &StageTrace{}
	useAI := resolveAIMode(mode, c.enableAI)

	if useAI && c.ai != nil {
		result, tokens, err := c.ai.ClassifyTicket(ctx, subject, body)
		trace.Tokens = tokens
		if err == nil {
			if result.CategoryConfidence >= c.confidenceThreshold {
				return result, trace
			}
			slog.Info("classifier: AI confidence below threshold, using fallback",
				"confidence", result.CategoryConfidence,
				"threshold", c.confidenceThreshold)
			trace.FallbackUsed = true
		} else {
			slog.Warn("classifier: AI classification failed, falling back to rule-based", "error", err)
			trace.FallbackUsed = true
			trace.AIError = err.Error()
		}
	}

	return c.classifyWithRules(subject, body), trace
}

// classifyWithRules is the deterministic path: case-insensitive
// word-boundary keyword matching over the rule tables. Pure function of
// its input.
func (c *Classifier) classifyWithRules(subject, body string) *ClassificationResult {
	text := strings.ToLower(subject + " " + body)

	category, categoryConfidence, keywordsMatched := c.matchCategory(text)
	severity, severityConfidence, urgencyIndicators := c.matchSeverity(text)
	secondary := c.findSecondaryCategories(text, category)

	return &ClassificationResult{
		Category:            category,
		CategoryConfidence:  categoryConfidence,
		Severity:            severity,
		SeverityConfidence:  severityConfidence,
		SecondaryCategories: secondary,
		Reasoning:           buildClassificationReasoning(category, severity, keywordsMatched, urgencyIndicators),
		KeywordsMatched:     keywordsMatched,
		UrgencyIndicators:   urgencyIndicators,
	}
}

func (c *Classifier) matchCategory(text string) (string, float64, []string) {
	bestCategory := ""
	bestConfidence := 0.0
	var bestMatches []string

	for _, category := range ValidCategories {
		matchers, ok := c.categoryMatchers[category]
		if !ok {
			continue
		}
		var matches []string
		for _, m := range matchers {
			if m.re.MatchString(text) {
				matches = append(matches, m.keyword)
			}
		}
		if len(matches) == 0 {
			continue
		}

		// Confidence grows with the overlap ratio, boosted per match.
		ratio := float64(len(matches)) / float64(len(matchers))
		confidence := 0.5 + ratio*0.45 + float64(len(matches))*0.05
		if confidence > 0.95 {
			confidence = 0.95
		}
		if confidence > bestConfidence {
			bestCategory = category
			bestConfidence = confidence
			bestMatches = matches
		}
	}

	if bestCategory == "" {
		return "general", 0.3, nil
	}
	return bestCategory, bestConfidence, bestMatches
}

func (c *Classifier) matchSeverity(text string) (string, float64, []string) {
	bestSeverity := ""
	bestConfidence := 0.0
	var bestIndicators []string

	for _, severity := range ValidSeverities {
		matchers, ok := c.severityMatchers[severity]
		if !ok {
			continue
		}
		var matches []string
		for _, m := range matchers {
			if m.re.MatchString(text) {
				matches = append(matches, m.keyword)
			}
		}
		if len(matches) == 0 {
			continue
		}

		ratio := float64(len(matches)) / float64(len(matchers))
		confidence := 0.4 + ratio*0.5
		if confidence > 0.9 {
			confidence = 0.9
		}
		// Ties prefer the more severe level; ValidSeverities iterates
		// most-severe first, so a strictly-greater test suffices.
		if confidence > bestConfidence {
			bestSeverity = severity
			bestConfidence = confidence
			bestIndicators = matches
		}
	}

	if bestSeverity == "" {
		return "medium", 0.5, nil
	}
	return bestSeverity, bestConfidence, bestIndicators
}

// findSecondaryCategories returns non-primary categories matching at
// least two keywords, capped at two, in table-iteration order.
func (c *Classifier) findSecondaryCategories(text, primary string) []string {
	var secondary []string
	for _, category := range ValidCategories {
		if category == primary {
			continue
		}
		count := 0
		for _, m := range c.categoryMatchers[category] {
			if m.re.MatchString(text) {
				count++
			}
		}
		if count >= 2 {
			secondary = append(secondary, category)
			if len(secondary) == 2 {
				break
			}
		}
	}
	return secondary
}

func buildClassificationReasoning(category, severity string, keywords, indicators []string) string {
	var parts []string
	if len(keywords) > 0 {
		shown := keywords
		if len(shown) > 3 {
			shown = shown[:3]
		}
		parts = append(parts, "Matched keywords: "+strings.Join(shown, ", "))
	}
	if len(indicators) > 0 {
		shown := indicators
		if len(shown) > 2 {
			shown = shown[:2]
		}
		parts = append(parts, "Urgency indicators: "+strings.Join(shown, ", "))
	}
	parts = append(parts, fmt.Sprintf("Classified as %s with %s severity", category, severity))
	return strings.Join(parts, ". ") + "."
}
