package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonBlockPattern  = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// parseJSONObject decodes a JSON object from raw model output. Models
// sometimes wrap the object in a markdown fence or surround it with
// prose; both are stripped before decoding.
func parseJSONObject(content string, out any) error {
	content = strings.TrimSpace(content)

	if m := jsonBlockPattern.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}
	if m := jsonObjectPattern.FindString(content); m != "" {
		content = m
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return &ParseError{Reason: err.Error(), Content: content}
	}
	return nil
}
