package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// ticketEntropyBytes is the size of the raw verification secret
const ticketEntropyBytes = 32

// Ticket is a freshly issued verification ticket. Raw is handed to the
// Notifier and never persisted; only Hash is stored.
type Ticket struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// NewTicket generates a high entropy secret expiring ttl after now
func NewTicket(now time.Time, ttl time.Duration) (*Ticket, error) {
	buf := make([]byte, ticketEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate verification secret: %w", err)
	}

	raw := base64.RawURLEncoding.EncodeToString(buf)
	return &Ticket{
		Raw:       raw,
		Hash:      HashTicket(raw),
		ExpiresAt: now.Add(ttl),
	}, nil
}

// HashTicket returns the storage form of a raw ticket, hex encoded sha256.
// The digest is deterministic so tickets can be looked up by hash.
func HashTicket(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
