// Package transform applies a pair's content rules to a message before
// it is sent. All functions are pure so rules can be tested without a
// database or a live connection.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rules is the per-pair content policy stored on the forwarding pair as
// a JSON document. The zero value passes every message through
// unchanged.
type Rules struct {
	// IncludeKeywords, when non-empty, drops any message that does not
	// contain at least one of the keywords.
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	// ExcludeKeywords drops any message containing one of the keywords.
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	// Replacements is applied in map iteration order; replacements must
	// not depend on each other.
	Replacements map[string]string `json:"replacements,omitempty"`
	Prefix       string            `json:"prefix,omitempty"`
	Suffix       string            `json:"suffix,omitempty"`
	// BlockMedia drops messages that carry an attachment.
	BlockMedia bool `json:"block_media,omitempty"`
}

// ParseRules decodes the JSON rules column. An empty document yields
// the zero Rules.
func ParseRules(raw string) (Rules, error) {
	var r Rules
	if strings.TrimSpace(raw) == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("transform: parse rules: %w", err)
	}
	return r, nil
}

// Marshal encodes the rules for storage. The zero value encodes to an
// empty string so unconfigured pairs keep an empty column.
func (r Rules) Marshal() (string, error) {
	if r.isZero() {
		return "", nil
	}
	out, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("transform: marshal rules: %w", err)
	}
	return string(out), nil
}

func (r Rules) isZero() bool {
	return len(r.IncludeKeywords) == 0 && len(r.ExcludeKeywords) == 0 &&
		len(r.Replacements) == 0 && r.Prefix == "" && r.Suffix == "" && !r.BlockMedia
}

// Apply runs the rules over a message body. The second return reports
// whether the message should be forwarded at all; a false value is a
// policy skip, not an error.
func (r Rules) Apply(text string, hasMedia bool) (string, bool) {
	if r.BlockMedia && hasMedia {
		return "", false
	}
	lower := strings.ToLower(text)
	if len(r.IncludeKeywords) > 0 && !containsAny(lower, r.IncludeKeywords) {
		return "", false
	}
	if containsAny(lower, r.ExcludeKeywords) {
		return "", false
	}
	for from, to := range r.Replacements {
		text = strings.ReplaceAll(text, from, to)
	}
	if r.Prefix != "" {
		text = r.Prefix + text
	}
	if r.Suffix != "" {
		text = text + r.Suffix
	}
	return text, true
}

// containsAny reports whether lower contains any keyword,
// case-insensitively.
func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
