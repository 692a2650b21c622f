package domain

import (
	"regexp"
	"strings"
)

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// NormalizeMAC returns the lowercase, colon-delimited form of a hardware address.
func NormalizeMAC(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !macPattern.MatchString(raw) {
		return "", ErrInvalidMAC
	}
	return strings.ToLower(strings.ReplaceAll(raw, "-", ":")), nil
}
