package shop

import "math/rand"

const (
	trackingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	trackingLength   = 10
)

// NewTrackingNumber returns a 10-character uppercase alphanumeric code.
// Uniqueness is enforced by the orders table; callers retry on collision.
func NewTrackingNumber() string {
	b := make([]byte, trackingLength)
	for i := range b {
		b[i] = trackingAlphabet[rand.Intn(len(trackingAlphabet))]
	}
	return string(b)
}
