package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// ListUsersMessage requests a page of accounts
type ListUsersMessage struct {
	Page       int
	Limit      int
	OnResponse func(*ListUsersResponse)
}

func (e ListUsersMessage) Type() string { return "user.list" }

type ListUsersResponse struct {
	Users []*User
	Total int
	Page  int
	Limit int
}

// DeleteUsersMessage removes a single account by ID or a filtered set
type DeleteUsersMessage struct {
	Actor      *User
	ID         string
	Filter     DeleteFilter
	OnResponse func(*DeleteUsersResponse)
}

func (e DeleteUsersMessage) Type() string { return "user.delete" }

type DeleteUsersResponse struct {
	Deleted int64
}

// ChangeRoleMessage moves an account to a new role
type ChangeRoleMessage struct {
	Actor      *User
	UserID     string
	Role       Role
	OnResponse func(*User)
}

func (e ChangeRoleMessage) Type() string { return "user.role.change" }

// ManageUsersHandler serves the administrative account commands
type ManageUsersHandler struct {
	deps CommandDeps
}

// NewManageUsersHandler returns the administrative workflows
func NewManageUsersHandler(deps CommandDeps) *ManageUsersHandler {
	return &ManageUsersHandler{deps: deps.normalize()}
}

func (h *ManageUsersHandler) List(ctx context.Context, event ListUsersMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during user listing")
	default:
	}

	opts := ListOptions{Page: event.Page, Limit: event.Limit}.Normalize()

	users, total, err := h.deps.Users.List(ctx, opts)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&ListUsersResponse{
			Users: users,
			Total: total,
			Page:  opts.Page,
			Limit: opts.Limit,
		})
	}
	return nil
}

func (h *ManageUsersHandler) Delete(ctx context.Context, event DeleteUsersMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during user deletion")
	default:
	}

	if event.Actor == nil || !event.Actor.Role.IsPrivileged() {
		return ErrForbidden.Clone()
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		deleted int64
		err     error
	)

	if event.ID != "" {
		if err = h.deps.Users.Delete(ctx, event.ID); err == nil {
			deleted = 1
		}
	} else {
		deleted, err = h.deps.Users.DeleteMany(ctx, event.Filter)
	}
	if err != nil {
		return err
	}

	metadata := map[string]any{
		"deleted": deleted,
		"all":     event.Filter.All,
	}
	if event.Filter.Verified != nil {
		metadata["verified"] = *event.Filter.Verified
	}

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventUsersDeleted,
		Actor:     ActorFromUser(event.Actor),
		UserID:    event.ID,
		Metadata:  metadata,
	})

	if event.OnResponse != nil {
		event.OnResponse(&DeleteUsersResponse{Deleted: deleted})
	}
	return nil
}

func (h *ManageUsersHandler) ChangeRole(ctx context.Context, event ChangeRoleMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during role change")
	default:
	}

	if err := (ChangeRolePayload{Role: event.Role.String()}).Validate(); err != nil {
		return validationError(err)
	}

	role, _ := ParseRole(event.Role.String())
	if event.Actor == nil || !event.Actor.Role.CanAssign(role) {
		return ErrForbidden.Clone()
	}

	current, err := h.deps.Users.FindByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	updated, err := h.deps.Users.Update(ctx, event.UserID, UserUpdate{Role: &role}, h.deps.Clock.Now())
	if err != nil {
		return err
	}

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventUserRoleChanged,
		Actor:     ActorFromUser(event.Actor),
		UserID:    updated.ID.String(),
		Metadata: map[string]any{
			"from": current.Role,
			"to":   updated.Role,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(updated)
	}
	return nil
}
