package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// fieldPatterns lists the regex pass field types in extraction order.
// Within one field type, patterns are tried in priority order; the first
// non-empty, non-duplicate match per pattern is kept.
var fieldPatterns = []struct {
	name     string
	patterns []*regexp.Regexp
}{
	{"order_id", compileExtractors(
		`\b((?:ORD|ORDER)[-]?\d{5,10})\b`,
		`#(\d{5,10})\b`,
		`\b(?:order|invoice|transaction)\s*(?:id|number|#)?\s*[:\s]?\s*([A-Z0-9]{5,15})\b`,
	)},
	{"account_email", compileExtractors(
		`\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`,
	)},
	{"phone_number", compileExtractors(
		`\b(?:\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})\b`,
		`\b\+?(\d{1,3})[-.\s]?(\d{2,4})[-.\s]?(\d{3,4})[-.\s]?(\d{3,4})\b`,
		`\b(?:tel|phone|cell|mobile)[:\s]*([+\d][\d\s\-\(\)]{7,20})\b`,
	)},
	{"error_code", compileExtractors(
		`\b(?:ERR|ERROR)[-]?(\d{3,6})\b`,
		`\b0x([0-9A-Fa-f]{4,8})\b`,
		`\b(?:error|exception|fault)[:\s]*([A-Z0-9]{3,10})\b`,
		`\b([A-Z]{2,4}[-_]?\d{3,6})\b`,
	)},
	{"product_name", compileExtractors(
		`\b(?:product|item|service)[:\s]*([A-Za-z0-9\s\-]{3,50})\b`,
		`\b(?:using|with|on)\s+(?:the\s+)?([A-Z][A-Za-z0-9\s]{2,30})\b`,
	)},
	{"url", compileExtractors(
		`\b(https?://[^\s<>\{\}\|\\\^~\[\]]+)\b`,
	)},
	{"account_id", compileExtractors(
		`\b(?:account|user|customer)\s*(?:id|number)?[:\s]*([A-Z0-9]{4,20})\b`,
		`\b(?:ACC|USR|CUST)[-]?(\d{4,15})\b`,
	)},
	{"date", compileExtractors(
		`\b(\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})\b`,
		`\b(\d{4}[/\-]\d{1,2}[/\-]\d{1,2})\b`,
		`\b((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4})\b`,
	)},
	{"amount", compileExtractors(
		`\b\$([\d,]+\.?\d*)\b`,
		`\b([\d,]+\.?\d*)\s*(?:USD|EUR|GBP)\b`,
		`\b(?:amount|total|price|cost)[:\s]*\$?([\d,]+\.?\d*)\b`,
	)},
}

func compileExtractors(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?im)`+p))
	}
	return compiled
}

// Urgency words scanned for the synthetic priority_keywords field.
var priorityKeywords = []string{
	"urgent", "asap", "immediately", "critical", "emergency",
	"important", "priority", "quickly", "soon", "now",
	"as soon as possible", "right away", "help me",
}

// Per-field format checks applied after merging; mismatches become
// non-fatal validation-error strings.
var fieldValidationPatterns = map[string]*regexp.Regexp{
	"account_email": regexp.MustCompile(`(?i)^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
	"order_id":      regexp.MustCompile(`(?i)^[A-Z0-9\-#]{5,20}$`),
	"phone_number":  regexp.MustCompile(`^[\d\s\-\+\(\)]{7,20}$`),
	"error_code":    regexp.MustCompile(`(?i)^[A-Z0-9\-_]{3,15}$`),
}

var nonDigitPattern = regexp.MustCompile(`\D`)
var phoneJunkPattern = regexp.MustCompile(`[^\d\+\-\(\)\s]`)

// Extractor pulls structured fields out of free ticket text. The regex
// base pass always runs; the AI path only augments it.
type Extractor struct {
	ai       AIClient
	enableAI bool
	rules    *Rules
}

// NewExtractor creates an extractor. enableAI is the instance default for
// the three-way AIMode override.
func NewExtractor(ai AIClient, enableAI bool, rules *Rules) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{ai: ai, enableAI: enableAI, rules: rules}
}

// Extract runs the deterministic regex pass, optionally merges AI fields
// (higher confidence wins per name), validates formats, and computes
// missing required fields for the given category. An AI failure degrades
// to regex-only results; the trace records it.
func (e *Extractor) Extract(ctx context.Context, subject, body, category string, mode AIMode) (*ExtractionResult, *StageTrace) {
	trace := &StageTrace{}
	text := subject + "\n" + body
	useAI := resolveAIMode(mode, e.enableAI)

	fields := extractWithRegex(text)

	if found := scanPriorityKeywords(text); len(found) > 0 {
		fields = append(fields, ExtractedField{
			Name:       "priority_keywords",
			Value:      found,
			Confidence: 0.9,
			SourceSpan: strings.Join(found, ", "),
		})
	}

	if useAI && e.ai != nil {
		aiFields, tokens, err := e.ai.ExtractFields(ctx, subject, body, category)
		trace.Tokens = tokens
		if err != nil {
			slog.Warn("extractor: AI extraction failed, using regex-only results", "error", err)
			trace.FallbackUsed = true
			trace.AIError = err.Error()
		} else {
			fields = mergeFields(fields, aiFields)
		}
	}

	return &ExtractionResult{
		Fields:           fields,
		MissingRequired:  e.findMissingRequired(fields, category),
		ValidationErrors: validateFields(fields),
	}, trace
}

func extractWithRegex(text string) []ExtractedField {
	var fields []ExtractedField
	seen := make(map[string]map[string]struct{})

	for _, fp := range fieldPatterns {
		for _, pattern := range fp.patterns {
			for _, match := range pattern.FindAllStringSubmatch(text, -1) {
				value := submatchValue(match)
				value = strings.TrimSpace(value)
				if len(value) < 2 {
					continue
				}
				value = normalizeFieldValue(fp.name, value)

				if _, dup := seen[fp.name][value]; dup {
					continue
				}
				if seen[fp.name] == nil {
					seen[fp.name] = make(map[string]struct{})
				}
				seen[fp.name][value] = struct{}{}

				fields = append(fields, ExtractedField{
					Name:       fp.name,
					Value:      value,
					Confidence: regexConfidence(fp.name, value),
					SourceSpan: match[0],
				})
			}
		}
	}
	return fields
}

// submatchValue returns the single capture group when there is one, the
// concatenation of all groups otherwise (multi-group phone patterns), and
// the whole match when the pattern has no groups.
func submatchValue(match []string) string {
	switch len(match) {
	case 1:
		return match[0]
	case 2:
		return match[1]
	default:
		return strings.Join(match[1:], "")
	}
}

func normalizeFieldValue(name, value string) string {
	switch name {
	case "account_email":
		return strings.ToLower(strings.TrimSpace(value))
	case "phone_number":
		return phoneJunkPattern.ReplaceAllString(value, "")
	case "order_id", "error_code":
		return strings.ToUpper(strings.TrimSpace(value))
	case "amount":
		return strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	default:
		return strings.TrimSpace(value)
	}
}

// regexConfidence starts at 0.7, boosted by format-pattern match and
// typical-length heuristics, capped at 0.95.
func regexConfidence(name, value string) float64 {
	confidence := 0.7

	if pattern, ok := fieldValidationPatterns[name]; ok && pattern.MatchString(value) {
		confidence += 0.15
	}

	switch name {
	case "account_email":
		at := strings.LastIndex(value, "@")
		if at > 0 && strings.Contains(value[at+1:], ".") {
			confidence += 0.1
		}
	case "order_id":
		if len(value) >= 5 && len(value) <= 20 {
			confidence += 0.1
		}
	case "phone_number":
		digits := len(nonDigitPattern.ReplaceAllString(value, ""))
		if digits >= 7 && digits <= 15 {
			confidence += 0.1
		}
	}

	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

func scanPriorityKeywords(text string) []string {
	var found []string
	lower := strings.ToLower(text)
	for _, kw := range priorityKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// mergeFields merges AI fields into the regex fields. For a name already
// present the higher-confidence field wins; new names are appended.
func mergeFields(regexFields, aiFields []ExtractedField) []ExtractedField {
	merged := make([]ExtractedField, len(regexFields))
	copy(merged, regexFields)

	index := make(map[string]int, len(merged))
	for i, f := range merged {
		if _, ok := index[f.Name]; !ok {
			index[f.Name] = i
		}
	}

	for _, af := range aiFields {
		if i, ok := index[af.Name]; ok {
			if af.Confidence > merged[i].Confidence {
				merged[i] = af
			}
		} else {
			index[af.Name] = len(merged)
			merged = append(merged, af)
		}
	}
	return merged
}

func validateFields(fields []ExtractedField) []string {
	var errs []string
	for _, f := range fields {
		pattern, ok := fieldValidationPatterns[f.Name]
		if !ok {
			continue
		}
		value, isString := f.Value.(string)
		if !isString {
			continue
		}
		if !pattern.MatchString(value) {
			errs = append(errs, fmt.Sprintf("Field '%s' with value '%s' does not match expected format", f.Name, value))
		}
	}
	return errs
}

func (e *Extractor) findMissingRequired(fields []ExtractedField, category string) []string {
	required, ok := e.rules.RequiredFields[category]
	if !ok {
		return nil
	}

	present := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		present[f.Name] = struct{}{}
	}

	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// FieldsToMap flattens a field list to a name-to-value map; the first
// occurrence of a name wins, matching the ordering guarantees of the
// regex pass.
func FieldsToMap(fields []ExtractedField) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = f.Value
		}
	}
	return out
}

// HighestConfidenceField returns the highest-confidence field with the
// given name, or nil when absent.
func HighestConfidenceField(fields []ExtractedField, name string) *ExtractedField {
	var best *ExtractedField
	for i := range fields {
		if fields[i].Name != name {
			continue
		}
		if best == nil || fields[i].Confidence > best.Confidence {
			best = &fields[i]
		}
	}
	return best
}
