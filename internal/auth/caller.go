package auth

import "strings"

// Caller is the authenticated subject behind a request. Email and the name
// fields are optional and only used as defaults when a profile is created.
type Caller struct {
	Subject    string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
}

// firstEmail returns the first candidate that looks like an email address.
func firstEmail(candidates ...string) string {
	for _, candidate := range candidates {
		trimmed := strings.TrimSpace(candidate)
		if trimmed != "" && strings.Contains(trimmed, "@") {
			return trimmed
		}
	}
	return ""
}
