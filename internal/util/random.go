// Package util provides utility functions for the sentinel crisis engine.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
// Uses math/rand/v2 for optimal performance with modern best practices.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2 with optimal entropy utilization for non-cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length) // Pre-allocate capacity for efficiency

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateRandomAlphaNumeric generates a random alphanumeric string of the specified length.
// Uses math/rand/v2 for optimal performance and modern best practices.
func GenerateRandomAlphaNumeric(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var builder strings.Builder
	builder.Grow(length) // Pre-allocate capacity for efficiency

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.IntN(len(chars))])
	}

	return builder.String()
}

// GenerateDetectionID generates a unique detection result ID with "det_" prefix.
func GenerateDetectionID() string {
	return GenerateRandomID("det_", 32)
}

// GenerateAlertID generates a unique emergency alert ID with "alrt_" prefix.
func GenerateAlertID() string {
	return GenerateRandomID("alrt_", 32)
}

// GenerateContactID generates a unique emergency contact ID with "ct_" prefix.
func GenerateContactID() string {
	return GenerateRandomID("ct_", 32)
}

// GenerateNotificationID generates a unique notification ID with "ntf_" prefix.
func GenerateNotificationID() string {
	return GenerateRandomID("ntf_", 32)
}

// GenerateEventID generates a unique engine event ID with "evt_" prefix.
func GenerateEventID() string {
	return GenerateRandomID("evt_", 32)
}
