package service

import (
	"crypto/rand"
	"fmt"
	"time"
)

const refAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReferenceNumber produces a human-shareable tracking code in the form
// PH-<year>-<6 alphanumeric>. Uniqueness is enforced by the store; callers
// regenerate on collision.
func NewReferenceNumber(now time.Time) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken; fall back to a
		// time-derived suffix so intake still makes progress.
		for i := range b {
			b[i] = refAlphabet[int(now.UnixNano()>>uint(i*5))%len(refAlphabet)]
		}
	} else {
		for i := range b {
			b[i] = refAlphabet[int(b[i])%len(refAlphabet)]
		}
	}
	return fmt.Sprintf("PH-%d-%s", now.Year(), string(b))
}
