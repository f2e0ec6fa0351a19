package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// VerifyAccountMessage verifies an account either by raw ticket or, for
// privileged callers, directly by email. Exactly one of Token or Email is set.
type VerifyAccountMessage struct {
	Token      string `json:"token"`
	Email      string `json:"email"`
	Actor      *User
	OnResponse func(*VerifyAccountResponse)
}

func (e VerifyAccountMessage) Type() string { return "user.verify" }

type VerifyAccountResponse struct {
	User            *User
	Mode            string
	AlreadyVerified bool
}

type AccountVerificationHandler struct {
	deps    CommandDeps
	machine VerificationStateMachine
}

// NewAccountVerificationHandler returns the verification workflow
func NewAccountVerificationHandler(deps CommandDeps) *AccountVerificationHandler {
	deps = deps.normalize()
	return &AccountVerificationHandler{
		deps: deps,
		machine: NewVerificationStateMachine(deps.Users,
			WithStateMachineClock(deps.Clock),
			WithStateMachineActivitySink(deps.Activity),
			WithStateMachineLogger(deps.Logger),
		),
	}
}

func (h *AccountVerificationHandler) Execute(ctx context.Context, event VerifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *AccountVerificationHandler) execute(ctx context.Context, event VerifyAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		result *TransitionResult
		mode   string
		err    error
	)

	switch {
	case event.Token != "" && event.Email != "":
		return withDetails(ErrValidation, map[string]any{"body": "provide either a token or an email"})
	case event.Token != "":
		mode = VerificationModeTicket
		if err := (VerifyTokenQuery{Token: event.Token}).Validate(); err != nil {
			// malformed tickets cannot match anything
			return ErrInvalidOrExpiredToken.Clone()
		}
		result, err = h.machine.ConsumeTicket(ctx, ActorFromUser(event.Actor), event.Token)
	case event.Email != "":
		mode = VerificationModeEmail
		result, err = h.verifyByEmail(ctx, event)
	default:
		return withDetails(ErrValidation, map[string]any{"token": "cannot be blank"})
	}

	if err != nil {
		if !IsKind(err, TextCodeInvalidOrExpiredToken) {
			h.deps.Logger.Error("account verification failed", "mode", mode, "error", err)
		}
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&VerifyAccountResponse{
			User:            result.User,
			Mode:            mode,
			AlreadyVerified: !result.Changed,
		})
	}

	return nil
}

// verifyByEmail skips proof of mailbox ownership, so it is reserved for
// privileged callers
func (h *AccountVerificationHandler) verifyByEmail(ctx context.Context, event VerifyAccountMessage) (*TransitionResult, error) {
	if event.Actor == nil || !event.Actor.Role.IsPrivileged() {
		return nil, ErrForbidden.Clone()
	}

	if err := (VerifyEmailPayload{Email: event.Email}).Validate(); err != nil {
		return nil, validationError(err)
	}

	user, err := h.deps.Users.FindByEmail(ctx, event.Email)
	if err != nil {
		return nil, err
	}

	return h.machine.Transition(ctx, ActorFromUser(event.Actor), user, VerificationVerified,
		WithTransitionReason("verified by administrator"),
	)
}
