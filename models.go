package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationState tracks whether the account proved ownership of its email
type VerificationState string

const (
	// VerificationPending is the initial state, a ticket is outstanding
	VerificationPending VerificationState = "pending"
	// VerificationVerified is terminal, the ticket has been consumed
	VerificationVerified VerificationState = "verified"
)

// User is the account record.
// VerificationSecretHash and VerificationExpiresAt are set if and only if
// the account is pending.
type User struct {
	bun.BaseModel          `bun:"table:users,alias:usr"`
	ID                     uuid.UUID         `bun:"id,pk,type:uuid" json:"id"`
	Username               string            `bun:"username,notnull,unique" json:"username"`
	Email                  string            `bun:"email,notnull,unique" json:"email"`
	PasswordHash           string            `bun:"password_hash,notnull" json:"-"`
	Role                   Role              `bun:"role,notnull" json:"role"`
	VerificationState      VerificationState `bun:"verification_state,notnull" json:"verification_state"`
	VerificationSecretHash *string           `bun:"verification_secret_hash,unique,nullzero" json:"-"`
	VerificationExpiresAt  *time.Time        `bun:"verification_expires_at,nullzero" json:"-"`
	ConsumedTicketHash     *string           `bun:"consumed_ticket_hash,nullzero" json:"-"`
	VerifiedAt             *time.Time        `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	CreatedAt              *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt              *time.Time        `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsVerified reports whether the account completed email verification
func (u *User) IsVerified() bool {
	return u != nil && u.VerificationState == VerificationVerified
}

// HasTicket reports whether a verification ticket is outstanding
func (u *User) HasTicket() bool {
	return u != nil && u.VerificationSecretHash != nil && u.VerificationExpiresAt != nil
}

// Profile returns the public projection of the account
func (u *User) Profile() Profile {
	return Profile{
		ID:       u.ID.String(),
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		Verified: u.IsVerified(),
	}
}

// Profile is the outward facing view of an account. It never carries
// password or ticket material.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`
}

// UserUpdate lists the mutable fields of an account. Nil fields are left
// untouched.
type UserUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *Role
}

// IsEmpty reports whether the update would change nothing
func (u UserUpdate) IsEmpty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil && u.Role == nil
}

// DeleteFilter selects accounts for bulk deletion
type DeleteFilter struct {
	All      bool
	Verified *bool
}

// ListOptions paginates account listings. Page is 1 based.
type ListOptions struct {
	Page  int
	Limit int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxPage          = 1_000_000
)

// Normalize clamps pagination values into range
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = defaultPageLimit
	}
	if o.Limit > maxPageLimit {
		o.Limit = maxPageLimit
	}
	if o.Page > maxPage {
		o.Page = maxPage
	}
	return o
}

// Offset returns the number of rows to skip
func (o ListOptions) Offset() int {
	n := o.Normalize()
	return (n.Page - 1) * n.Limit
}
