package workflow

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Maximum allowed text lengths.
const (
	MaxSubjectLength = 500
	MaxBodyLength    = 50000
)

// Patterns that might indicate prompt injection attempts. A match is a
// warning, never a validation failure.
var promptInjectionPatterns = compilePatterns([]string{
	`ignore\s+(all\s+)?previous\s+instructions`,
	`ignore\s+(all\s+)?prior\s+instructions`,
	`disregard\s+(all\s+)?previous`,
	`you\s+are\s+now\s+a?`,
	`act\s+as\s+(if\s+)?you\s+are`,
	`pretend\s+(to\s+be|you\s+are)`,
	`your\s+new\s+role`,
	`override\s+(previous\s+)?(instructions|rules)`,
	`system\s*:\s*`,
	`<\|.*?\|>`, // special control tokens
	`\[SYSTEM\]`,
	`\[INST\]`,
})

var (
	controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// Validator checks and sanitizes inbound ticket text.
type Validator struct {
	maxSubjectLength int
	maxBodyLength    int
}

// NewValidator creates a validator with the standard length bounds.
func NewValidator() *Validator {
	return &Validator{
		maxSubjectLength: MaxSubjectLength,
		maxBodyLength:    MaxBodyLength,
	}
}

// Validate checks a ticket and returns sanitized text plus any errors and
// warnings. All structural errors are accumulated rather than stopping at
// the first; sanitized text is computed regardless of validity.
func (v *Validator) Validate(ticket *TicketInput) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if strings.TrimSpace(ticket.Subject) == "" {
		result.IsValid = false
		result.Errors = append(result.Errors, "Subject cannot be empty")
	} else if len(ticket.Subject) > v.maxSubjectLength {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("Subject exceeds maximum length of %d", v.maxSubjectLength))
	}

	if strings.TrimSpace(ticket.Body) == "" {
		result.IsValid = false
		result.Errors = append(result.Errors, "Body cannot be empty")
	} else if len(ticket.Body) > v.maxBodyLength {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("Body exceeds maximum length of %d", v.maxBodyLength))
	}

	if warnings := v.checkInjectionPatterns(ticket.Subject, ticket.Body); len(warnings) > 0 {
		result.Warnings = append(result.Warnings, warnings...)
		slog.Warn("validator: potential prompt injection detected", "warnings", len(warnings))
	}

	result.SanitizedSubject = sanitizeText(ticket.Subject)
	result.SanitizedBody = sanitizeText(ticket.Body)

	return result
}

func (v *Validator) checkInjectionPatterns(subject, body string) []string {
	var warnings []string
	combined := subject + " " + body

	for _, pattern := range promptInjectionPatterns {
		if pattern.MatchString(combined) {
			warnings = append(warnings,
				fmt.Sprintf("Potential prompt injection pattern detected: %s", pattern.String()))
		}
	}
	return warnings
}

// sanitizeText strips control characters (keeping newlines and tabs only
// long enough for the whitespace collapse to treat them as separators),
// collapses whitespace runs to single spaces, and trims.
func sanitizeText(text string) string {
	if text == "" {
		return ""
	}
	sanitized := controlCharPattern.ReplaceAllString(text, "")
	sanitized = whitespacePattern.ReplaceAllString(sanitized, " ")
	return strings.TrimSpace(sanitized)
}
