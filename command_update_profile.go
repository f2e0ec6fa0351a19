package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// UpdateProfileMessage changes the caller's own account
type UpdateProfileMessage struct {
	UserID     string
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	Password   *string `json:"password"`
	OnResponse func(*UpdateProfileResponse)
}

func (e UpdateProfileMessage) Type() string { return "user.profile.update" }

// UpdateProfileResponse carries a fresh token when the password changed
type UpdateProfileResponse struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

type UpdateProfileHandler struct {
	deps CommandDeps
}

// NewUpdateProfileHandler returns the profile update workflow
func NewUpdateProfileHandler(deps CommandDeps) *UpdateProfileHandler {
	return &UpdateProfileHandler{deps: deps.normalize()}
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during profile update")
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	payload := ProfileUpdatePayload{
		Username: event.Username,
		Email:    event.Email,
		Password: event.Password,
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	current, err := h.deps.Users.FindByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	update := UserUpdate{}

	if event.Username != nil && strings.TrimSpace(*event.Username) != current.Username {
		if err := h.ensureUnclaimed(ctx, current, h.deps.Users.FindByUsername, *event.Username); err != nil {
			return err
		}
		update.Username = event.Username
	}

	if event.Email != nil && NormalizeEmail(*event.Email) != current.Email {
		if err := h.ensureUnclaimed(ctx, current, h.deps.Users.FindByEmail, *event.Email); err != nil {
			return err
		}
		update.Email = event.Email
	}

	if event.Password != nil {
		hash, err := h.deps.hasher().hash(ctx, *event.Password)
		if err != nil {
			return internalError(err, "failed to hash password")
		}
		update.PasswordHash = &hash
	}

	updated, err := h.deps.Users.Update(ctx, event.UserID, update, h.deps.Clock.Now())
	if err != nil {
		return err
	}

	resp := &UpdateProfileResponse{User: updated}

	if update.PasswordHash != nil && h.deps.Tokens != nil {
		token, expiresAt, err := h.deps.Tokens.Generate(ctx, NewIdentityFromUser(updated))
		if err != nil {
			return err
		}
		resp.Token = token
		resp.ExpiresAt = expiresAt
	}

	if !update.IsEmpty() {
		h.deps.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventUserUpdated,
			Actor:     ActorFromUser(current),
			UserID:    updated.ID.String(),
			Metadata: map[string]any{
				"username_changed": update.Username != nil,
				"email_changed":    update.Email != nil,
				"password_changed": update.PasswordHash != nil,
			},
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

type finder func(ctx context.Context, value string) (*User, error)

func (h *UpdateProfileHandler) ensureUnclaimed(ctx context.Context, current *User, find finder, value string) error {
	other, err := find(ctx, value)
	switch {
	case err == nil && other.ID != current.ID:
		return ErrConflict.Clone()
	case err != nil && !IsKind(err, TextCodeNotFound):
		return err
	default:
		return nil
	}
}
