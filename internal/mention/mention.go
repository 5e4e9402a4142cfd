// Package mention implements the @[DisplayName](userId) token grammar.
// Tokens are parsed and validated once at message creation and stored
// verbatim; the core never rewrites them.
package mention

import (
	"context"
	"regexp"
)

// tokenRegex matches @[DisplayName](userId). Display names may not contain
// brackets; user ids may not contain parens.
var tokenRegex = regexp.MustCompile(`@\[([^\[\]]+)\]\(([^()\s]+)\)`)

// Token is a structured mention reference extracted from message content.
type Token struct {
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id"`
}

// Parse extracts all mention tokens from content, in order of appearance,
// deduplicated by user id.
func Parse(content string) []Token {
	matches := tokenRegex.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		if seen[m[2]] {
			continue
		}
		seen[m[2]] = true
		tokens = append(tokens, Token{DisplayName: m[1], UserID: m[2]})
	}
	return tokens
}

// MentionedIDs returns the user ids mentioned in content.
func MentionedIDs(content string) []string {
	tokens := Parse(content)
	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.UserID
	}
	return ids
}

// Mentions reports whether content mentions userID.
func Mentions(content, userID string) bool {
	for _, t := range Parse(content) {
		if t.UserID == userID {
			return true
		}
	}
	return false
}

// Verifier resolves whether a user id exists; the user directory
// implements it.
type Verifier interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Validate checks every mentioned id against the directory and returns the
// ids that did not resolve. Content is accepted or rejected as a whole by
// the caller; Validate never modifies it.
func Validate(ctx context.Context, v Verifier, content string) ([]string, error) {
	var unknown []string
	for _, t := range Parse(content) {
		ok, err := v.Exists(ctx, t.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			unknown = append(unknown, t.UserID)
		}
	}
	return unknown, nil
}
