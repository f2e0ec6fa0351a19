package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the session decoded from a valid token
type SessionObject struct {
	UserID         string    `json:"user_id,omitempty"`
	Role           Role      `json:"role,omitempty"`
	Issuer         string    `json:"issuer,omitempty"`
	TokenID        string    `json:"token_id,omitempty"`
	IssuedAt       time.Time `json:"issued_at,omitempty"`
	ExpirationDate time.Time `json:"expiration_date,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

// GetRole returns the role embedded in the token. Authorization uses the
// stored role instead, this value is informational.
func (s *SessionObject) GetRole() Role {
	return s.Role
}

func (s *SessionObject) GetIssuedAt() time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetExpiresAt() time.Time {
	return s.ExpirationDate
}

func (s SessionObject) String() string {
	return fmt.Sprintf(
		"user=%s role=%s iss=%s iat=%s exp=%s",
		s.UserID,
		s.Role,
		s.Issuer,
		s.IssuedAt.Format(time.RFC1123),
		s.ExpirationDate.Format(time.RFC1123),
	)
}

func sessionFromClaims(claims *JWTClaims) *SessionObject {
	return &SessionObject{
		UserID:         claims.UserID(),
		Role:           claims.Role(),
		Issuer:         claims.Issuer,
		TokenID:        claims.ID,
		IssuedAt:       claims.IssuedAt(),
		ExpirationDate: claims.Expires(),
	}
}
