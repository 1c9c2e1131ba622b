package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinNameLength is the minimum display-name length after trimming.
	MinNameLength = 2
	// MinSecretLength is the minimum plaintext secret length before hashing.
	MinSecretLength = 6
)

// emailPattern accepts a simple local@domain.tld shape.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidName reports whether a display name is long enough after trimming.
func ValidName(name string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(name)) >= MinNameLength
}

// ValidEmail reports whether an address matches the accepted shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}

// ValidSecret reports whether a plaintext secret is long enough.
func ValidSecret(secret string) bool {
	return len(secret) >= MinSecretLength
}

// ValidateNewUser checks all fields required to create a record and
// returns a ValidationError naming every failing field.
func ValidateNewUser(name, email, secret string, role Role) error {
	var fields []string
	if !ValidName(name) {
		fields = append(fields, "name")
	}
	if !ValidEmail(email) {
		fields = append(fields, "email")
	}
	if !ValidSecret(secret) {
		fields = append(fields, "secret")
	}
	if !role.Valid() {
		fields = append(fields, "role")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
