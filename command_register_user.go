package auth

import (
	"context"
	"crypto/rand"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// DefaultVerificationTTL is how long a verification ticket stays valid
const DefaultVerificationTTL = 6 * time.Hour

const commandTimeout = 10 * time.Second

// CommandDeps are the collaborators shared by the account command handlers
type CommandDeps struct {
	Users           Users
	Tokens          TokenService
	Hasher          PasswordHasher
	Pool            *WorkerPool
	Clock           Clock
	Logger          Logger
	Activity        ActivitySink
	Mailer          *VerificationMailer
	Dispatcher      *Dispatcher
	VerificationTTL time.Duration
}

func (d CommandDeps) normalize() CommandDeps {
	if d.Hasher == nil {
		d.Hasher = NewBcryptHasher(0)
	}
	if d.VerificationTTL <= 0 {
		d.VerificationTTL = DefaultVerificationTTL
	}
	d.Clock = normalizeClock(d.Clock)
	d.Logger = normalizeLogger(d.Logger)
	d.Activity = normalizeActivitySink(d.Activity)
	return d
}

func (d CommandDeps) hasher() pooledHasher {
	return pooledHasher{pool: d.Pool, hasher: d.Hasher}
}

func (d CommandDeps) recorder() activityRecorder {
	return activityRecorder{sink: d.Activity, clock: d.Clock, logger: d.Logger}
}

type RegisterUserMessage struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	// Actor is the authenticated caller, nil for self registration
	Actor      *User
	UseHashid  bool
	OnResponse func(*RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterUserResponse struct {
	User *User
	// Ticket is exposed for callers that deliver it through their own channel
	Ticket *Ticket
}

type RegisterUserHandler struct {
	deps CommandDeps
}

// NewRegisterUserHandler returns the registration workflow
func NewRegisterUserHandler(deps CommandDeps) *RegisterUserHandler {
	return &RegisterUserHandler{deps: deps.normalize()}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	payload := RegisterPayload{
		Username: event.Username,
		Email:    event.Email,
		Password: event.Password,
		Role:     event.Role.String(),
	}
	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	role, err := resolveRegistrationRole(event.Actor, event.Role)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	users := h.deps.Users
	email := NormalizeEmail(event.Email)

	// advisory, the unique index decides races
	if err := h.ensureAvailable(ctx, email, event.Username); err != nil {
		return err
	}

	hash, err := h.deps.hasher().hash(ctx, event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password").
			WithTextCode(TextCodeInternal).
			WithCode(goerrors.CodeInternal)
	}

	now := h.deps.Clock.Now()
	ticket, err := NewTicket(now, h.deps.VerificationTTL)
	if err != nil {
		return internalError(err, "failed to issue verification ticket")
	}

	user := &User{
		Username:               event.Username,
		Email:                  email,
		PasswordHash:           hash,
		Role:                   role,
		VerificationState:      VerificationPending,
		VerificationSecretHash: &ticket.Hash,
		VerificationExpiresAt:  &ticket.ExpiresAt,
	}

	if event.UseHashid {
		id, err := hashidAccountID(email)
		if err != nil {
			h.deps.Logger.Warn("hashid account id failed, using a random id", "error", err)
		} else {
			user.ID = id
		}
	}

	created, err := users.Create(ctx, user)
	if err != nil {
		if IsKind(err, TextCodeConflict) {
			h.deps.Logger.Info("registration rejected by unique index", "email", email)
		} else {
			h.deps.Logger.Error("registration failed to persist user", "error", err)
		}
		return err
	}

	actor := ActorFromUser(event.Actor)

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     actor,
		UserID:    created.ID.String(),
		ToState:   VerificationPending,
		Metadata: map[string]any{
			"role": created.Role,
		},
	})

	h.sendVerification(ctx, created, ticket, actor)

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{
			User:   created,
			Ticket: ticket,
		})
	}

	return nil
}

func (h *RegisterUserHandler) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := h.deps.Users.FindByEmail(ctx, email); err == nil {
		return ErrConflict.Clone()
	} else if !IsKind(err, TextCodeNotFound) {
		return err
	}

	if _, err := h.deps.Users.FindByUsername(ctx, username); err == nil {
		return ErrConflict.Clone()
	} else if !IsKind(err, TextCodeNotFound) {
		return err
	}

	return nil
}

// sendVerification hands the mail to the dispatcher. Nothing here can fail
// the registration.
func (h *RegisterUserHandler) sendVerification(ctx context.Context, user *User, ticket *Ticket, actor ActorRef) {
	if h.deps.Mailer == nil || h.deps.Dispatcher == nil {
		h.deps.Logger.Warn("verification mail not configured", "user_id", user.ID)
		return
	}

	createdBy := ActorRef{}
	if actor.Role.IsPrivileged() {
		createdBy = actor
	}

	subject, body, err := h.deps.Mailer.Compose(user, ticket, h.deps.VerificationTTL, createdBy)
	if err != nil {
		h.deps.Logger.Error("failed to compose verification mail", "user_id", user.ID, "error", err)
		h.deps.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventNotificationFailure,
			UserID:    user.ID.String(),
			Metadata: map[string]any{
				"error": err.Error(),
			},
		})
		return
	}

	h.deps.Dispatcher.Dispatch(ctx, Message{
		UserID:    user.ID.String(),
		Recipient: user.Email,
		Subject:   subject,
		Body:      body,
	})
}

// resolveRegistrationRole applies the elevation rule: only a privileged
// caller may pick a role, everyone else gets DefaultRole.
func resolveRegistrationRole(actor *User, requested Role) (Role, error) {
	if requested == "" {
		return DefaultRole, nil
	}

	role, ok := ParseRole(requested.String())
	if !ok {
		return "", withDetails(ErrValidation, map[string]any{"role": "must be a valid value"})
	}

	if actor == nil || !actor.Role.IsPrivileged() {
		return DefaultRole, nil
	}

	if !actor.Role.CanAssign(role) {
		return "", withDetails(ErrForbidden, map[string]any{
			"role": role,
		})
	}

	return role, nil
}

// hashidAccountID hashes the email under a fresh salt. Ids are never reused
// for a later account holding the same address.
func hashidAccountID(email string) (uuid.UUID, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return uuid.Nil, err
	}
	return hashid.NewUUID(email, hashid.WithHMACKey(salt))
}
