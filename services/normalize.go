package services

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Validate is shared by services and handlers; it is safe for concurrent use.
var Validate = validator.New()

// NormalizeEmail trims and lower-cases an address. Emails are stored and
// compared in this form everywhere.
func NormalizeEmail(email string) string {
	// Casers keep state between calls, so each call builds its own.
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

// IsValidEmail reports whether email is syntactically valid.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	return Validate.Var(email, "email") == nil
}

// NormalizeName collapses runs of whitespace in a display name.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
