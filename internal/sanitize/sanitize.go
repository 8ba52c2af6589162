// Package sanitize applies regex replacements to string values in query
// results before they are returned to the caller.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule is the sanitizer's own rule type.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies regex replacement rules to string values.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Panics on invalid regex patterns.
func NewSanitizer(rules []Rule) *Sanitizer {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("sanitize: invalid regex pattern %q: %v", r.Pattern, err))
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}
}

// HasRules reports whether any rules are configured. With no rules the
// caller can skip the sanitization pass entirely.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeString applies all rules to a single string, top to bottom.
func (s *Sanitizer) SanitizeString(value string) string {
	for _, rule := range s.rules {
		value = rule.pattern.ReplaceAllString(value, rule.replacement)
	}
	return value
}

// SanitizeRows applies all rules to every string value in the given rows,
// recursing into nested maps and slices. Non-string values pass through
// unchanged, including numbers decoded from JSON columns.
func (s *Sanitizer) SanitizeRows(rows []map[string]interface{}) []map[string]interface{} {
	if !s.HasRules() {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = s.sanitizeValue(v)
		}
	}
	return rows
}

func (s *Sanitizer) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.SanitizeString(val)
	case map[string]interface{}:
		for k, nested := range val {
			val[k] = s.sanitizeValue(nested)
		}
		return val
	case []interface{}:
		for i, nested := range val {
			val[i] = s.sanitizeValue(nested)
		}
		return val
	default:
		return v
	}
}
