// Package account validates and normalises account identifiers (hex public keys).
package account

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned for strings that are not a hex public key.
var ErrInvalidIdentifier = errors.New("invalid account identifier")

// IdentifierLength is the number of hex characters in a public key.
const IdentifierLength = 64

var hexKeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Normalize trims and lower-cases an identifier and checks its format.
func Normalize(identifier string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if !hexKeyPattern.MatchString(id) {
		return "", ErrInvalidIdentifier
	}
	return id, nil
}

// Valid reports whether identifier is already in normalised form.
func Valid(identifier string) bool {
	return hexKeyPattern.MatchString(identifier)
}

// Short returns a log-friendly prefix of an identifier
func Short(identifier string) string {
	if len(identifier) <= 12 {
		return identifier
	}
	return identifier[:12]
}
