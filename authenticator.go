package auth

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

// LoginResult is returned by a successful login
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// dummyPassword is compared against when the email is unknown so both
// failure paths pay for one bcrypt comparison
const dummyPassword = "go-auth-timing-equalizer"

type Auther struct {
	users        Users
	tokenService TokenService
	hasher       pooledHasher
	clock        Clock
	logger       Logger
	activitySink ActivitySink

	dummyOnce sync.Once
	dummyHash string
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users Users, tokenService TokenService) *Auther {
	return &Auther{
		users:        users,
		tokenService: tokenService,
		hasher:       pooledHasher{hasher: NewBcryptHasher(0)},
		clock:        SystemClock,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithPasswordHasher sets the hasher used to compare credentials
func (s *Auther) WithPasswordHasher(hasher PasswordHasher) *Auther {
	if hasher != nil {
		s.hasher.hasher = hasher
	}
	return s
}

// WithWorkerPool runs password comparisons through pool
func (s *Auther) WithWorkerPool(pool *WorkerPool) *Auther {
	s.hasher.pool = pool
	return s
}

// WithClock sets the clock used to stamp activity events
func (s *Auther) WithClock(clock Clock) *Auther {
	s.clock = normalizeClock(clock)
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login checks the credentials and issues a session token. An unknown
// email and a wrong password return the same ErrInvalidCredentials.
func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	email = NormalizeEmail(email)

	user, err := s.users.FindCredentialsByEmail(ctx, email)
	if err != nil {
		if !IsKind(err, TextCodeNotFound) {
			s.logger.Error("Login failed to load credentials", "error", err)
			return nil, err
		}

		if cmpErr := s.hasher.compare(ctx, password, s.timingHash()); cmpErr != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.loginFailed(ctx, actorAnonymous, "", email)
	}

	if err := s.hasher.compare(ctx, password, user.PasswordHash); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !stderrors.Is(err, ErrMismatchedHashAndPassword) {
			s.logger.Warn("Login password compare failed", "user_id", user.ID, "error", err)
		}
		return nil, s.loginFailed(ctx, ActorFromUser(user), user.ID.String(), email)
	}

	// the hash never leaves this function
	user.PasswordHash = ""

	token, expiresAt, err := s.tokenService.Generate(ctx, NewIdentityFromUser(user))
	if err != nil {
		s.logger.Error("Login failed to generate token", "user_id", user.ID, "error", err)
		return nil, err
	}

	s.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorFromUser(user),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"email": email,
		},
	})

	return &LoginResult{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates raw and returns the session it carries
func (s *Auther) SessionFromToken(ctx context.Context, raw string) (Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	claims, err := s.tokenService.Validate(ctx, raw)
	if err != nil {
		s.logger.Debug("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	return sessionFromClaims(claims), nil
}

// IdentityFromSession re-resolves the session subject from the store. A
// subject that no longer exists is Unauthorized.
func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (*User, error) {
	if session == nil {
		return nil, withDetails(ErrUnauthorized, map[string]any{"reason": "missing"})
	}

	user, err := s.users.FindByID(ctx, session.GetUserID())
	if err != nil {
		if IsKind(err, TextCodeNotFound) {
			s.logger.Warn("IdentityFromSession subject no longer exists", "user_id", session.GetUserID())
			return nil, withDetails(ErrUnauthorized, map[string]any{"reason": "unknown subject"})
		}
		s.logger.Error("IdentityFromSession find identity error", "error", err)
		return nil, err
	}

	return user, nil
}

func (s *Auther) loginFailed(ctx context.Context, actor ActorRef, userID, email string) error {
	s.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     actor,
		UserID:    userID,
		Metadata: map[string]any{
			"email": email,
		},
	})
	return ErrInvalidCredentials.Clone()
}

func (s *Auther) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.hasher.HashPassword(dummyPassword)
		if err != nil {
			s.logger.Error("failed to prepare timing hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Auther) recorder() activityRecorder {
	return activityRecorder{
		sink:   s.activitySink,
		clock:  s.clock,
		logger: s.logger,
	}
}
