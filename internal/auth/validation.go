package auth

import (
	"net/mail"
	"strings"
)

// ValidateEmail parses and normalizes an email address, returning the
// normalized form and domain. Returns ErrInvalidEmail if the format is
// invalid. The Session Service uses domain to enforce settings.allowedDomains
// (spec.md §4.2).
func ValidateEmail(email string) (normalized, domain string, err error) {
	addr, parseErr := mail.ParseAddress(email)
	if parseErr != nil {
		return "", "", ErrInvalidEmail
	}

	normalized = strings.ToLower(addr.Address)

	parts := strings.SplitN(normalized, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidEmail
	}

	return normalized, parts[1], nil
}
