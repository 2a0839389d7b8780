// Package jid normalises free-form phone number input into the chat
// network's canonical address form.
package jid

import (
	"fmt"
	"strings"
)

// Normalize maps a free-form phone input to a canonical chat address.
// Strings that already look like addresses (containing "@") pass through
// unchanged. Bare numbers are coerced to the 62-country-code form and
// suffixed with "@c.us".
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("Empty JID")
	}

	if strings.HasSuffix(raw, "@g.us") {
		return raw, nil
	}
	if strings.HasSuffix(raw, "@c.us") {
		return raw, nil
	}
	if strings.Contains(raw, "@") {
		return raw, nil
	}

	digits := stripNonDigits(raw)
	switch {
	case strings.HasPrefix(digits, "62"):
		// keep
	case strings.HasPrefix(digits, "0"):
		digits = "62" + digits[1:]
	case strings.HasPrefix(digits, "8"):
		digits = "62" + digits
	default:
		return "", fmt.Errorf("Unsupported phone number format")
	}

	return digits + "@c.us", nil
}

// stripNonDigits removes everything but digits, tolerating a leading '+'.
func stripNonDigits(s string) string {
	s = strings.TrimPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
