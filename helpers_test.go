package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// OpenTestRepo returns a migrated in memory SQLite store private to t
func OpenTestRepo(t *testing.T) RepositoryManager {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	repo, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(context.Background()))

	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// FakeClock is a settable Clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// CaptureNotifier records every message and fails when Err is set
type CaptureNotifier struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (n *CaptureNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, Message{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

func (n *CaptureNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.sent))
	copy(out, n.sent)
	return out
}

// CaptureSink records activity events
type CaptureSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *CaptureSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *CaptureSink) Events() []ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *CaptureSink) OfType(t ActivityEventType) []ActivityEvent {
	out := []ActivityEvent{}
	for _, ev := range s.Events() {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

// TestEnv bundles a store with the collaborators of the command handlers
type TestEnv struct {
	Repo       RepositoryManager
	Clock      *FakeClock
	Notifier   *CaptureNotifier
	Sink       *CaptureSink
	Tokens     *TokenServiceImpl
	Dispatcher *Dispatcher
	Deps       CommandDeps
	Auther     *Auther
}

const testSigningKey = "test-signing-key"

func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	env := &TestEnv{
		Repo:     OpenTestRepo(t),
		Clock:    NewFakeClock(),
		Notifier: &CaptureNotifier{},
		Sink:     &CaptureSink{},
	}

	pool := NewWorkerPool(4)
	hasher := NewBcryptHasher(bcrypt.MinCost)
	logger := NewZapLogger(nil)

	env.Tokens = NewTokenService([]byte(testSigningKey), DefaultTokenTTL, "go-auth-test",
		WithTokenClock(env.Clock),
		WithTokenWorkerPool(pool),
		WithTokenLogger(logger),
	)

	env.Dispatcher = NewDispatcher(env.Notifier,
		WithDispatchLogger(logger),
		WithDispatchActivitySink(env.Sink),
		WithDispatchTimeout(time.Second),
	)

	mailer, err := NewVerificationMailer("https://shop.example.com")
	require.NoError(t, err)

	env.Deps = CommandDeps{
		Users:      env.Repo.Users(),
		Tokens:     env.Tokens,
		Hasher:     hasher,
		Pool:       pool,
		Clock:      env.Clock,
		Logger:     logger,
		Activity:   env.Sink,
		Mailer:     mailer,
		Dispatcher: env.Dispatcher,
	}

	env.Auther = NewAuthenticator(env.Repo.Users(), env.Tokens).
		WithLogger(logger).
		WithActivitySink(env.Sink).
		WithPasswordHasher(hasher).
		WithWorkerPool(pool).
		WithClock(env.Clock)

	return env
}

// Register runs the registration command and returns its response
func (e *TestEnv) Register(t *testing.T, msg RegisterUserMessage) (*RegisterUserResponse, error) {
	t.Helper()

	var res *RegisterUserResponse
	msg.OnResponse = func(r *RegisterUserResponse) { res = r }
	err := NewRegisterUserHandler(e.Deps).Execute(context.Background(), msg)
	return res, err
}

// MustRegister registers username with a derived email and default password
func (e *TestEnv) MustRegister(t *testing.T, username string, actor *User, role Role) *RegisterUserResponse {
	t.Helper()

	res, err := e.Register(t, RegisterUserMessage{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret123",
		Role:     role,
		Actor:    actor,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// MustVerified registers and verifies an account holding role
func (e *TestEnv) MustVerified(t *testing.T, username string, role Role) *User {
	t.Helper()

	res := e.MustRegister(t, username, nil, "")
	users := e.Repo.Users()

	if role != DefaultRole {
		_, err := users.Update(context.Background(), res.User.ID.String(), UserUpdate{Role: &role}, e.Clock.Now())
		require.NoError(t, err)
	}

	user, err := users.MarkVerified(context.Background(), res.User.ID.String(), e.Clock.Now())
	require.NoError(t, err)
	return user
}

// DrainMail waits for queued notifications
func (e *TestEnv) DrainMail(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Dispatcher.Wait(ctx))
}

var errNotifierDown = errors.New("smtp: connection refused")

// NewTestRouter returns a fiber app for app.Test together with the go-router
// view of it used to register routes
func NewTestRouter(cfg fiber.Config) (*fiber.App, router.Router[*fiber.App]) {
	app := fiber.New(cfg)
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return app
	})
	return app, srv.Router()
}
