package domain

import (
	"crypto/rand"
	"fmt"
)

// Crockford-style alphabet: no I, L, O or U, so references survive being
// read over the phone at a billing desk.
const referenceAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const referenceLength = 12

// NewTransactionReference generates a candidate reference. Uniqueness is
// enforced by the database on insert, not here; the caller retries on
// collision.
func NewTransactionReference() (string, error) {
	buf := make([]byte, referenceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate transaction reference: %w", err)
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return "TXN-" + string(buf), nil
}
