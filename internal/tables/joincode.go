package tables

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Join codes are short, human-shareable, and compared case-insensitively.
// Codes are stored uppercase; lookups uppercase their input.
const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxJoinCodeAttempts bounds the retry loop when a freshly drawn
	// code collides with an existing table.
	maxJoinCodeAttempts = 5
)

func newJoinCode() (string, error) {
	alphabetSize := big.NewInt(int64(len(joinCodeAlphabet)))
	var builder strings.Builder
	builder.Grow(joinCodeLength)
	for i := 0; i < joinCodeLength; i++ {
		index, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		builder.WriteByte(joinCodeAlphabet[index.Int64()])
	}
	return builder.String(), nil
}

// NormalizeJoinCode canonicalizes user-supplied codes for lookup.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
