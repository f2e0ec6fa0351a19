package auth

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingUser(t *testing.T, now time.Time, username, email string) (*User, *Ticket) {
	t.Helper()
	ticket, err := NewTicket(now, time.Hour)
	require.NoError(t, err)
	return &User{
		Username:               username,
		Email:                  email,
		PasswordHash:           "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold",
		VerificationSecretHash: &ticket.Hash,
		VerificationExpiresAt:  &ticket.ExpiresAt,
	}, ticket
}

func TestUsers_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	now := NewFakeClock().Now()

	record, ticket := newPendingUser(t, now, "alice", "  Alice@Example.COM ")
	created, err := store.Create(ctx, record)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, RoleBuyer, created.Role)
	assert.Equal(t, VerificationPending, created.VerificationState)
	assert.Empty(t, created.PasswordHash, "public reads never carry the hash")
	assert.Nil(t, created.VerificationSecretHash)

	byEmail, err := store.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byName, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	creds, err := store.FindCredentialsByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, creds.PasswordHash)

	byTicket, err := store.FindByTicket(ctx, ticket.Hash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byTicket.ID)

	_, err = store.FindByID(ctx, uuid.NewString())
	assert.True(t, IsKind(err, TextCodeNotFound))

	_, err = store.FindByID(ctx, "not-a-uuid")
	assert.True(t, IsKind(err, TextCodeNotFound))

	_, err = store.FindByEmail(ctx, "")
	assert.True(t, IsKind(err, TextCodeNotFound))
}

func TestUsers_UniqueIndexes(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	now := NewFakeClock().Now()

	first, _ := newPendingUser(t, now, "alice", "alice@example.com")
	_, err := store.Create(ctx, first)
	require.NoError(t, err)

	sameEmail, _ := newPendingUser(t, now, "alice2", "ALICE@example.com")
	_, err = store.Create(ctx, sameEmail)
	assert.True(t, IsKind(err, TextCodeConflict), "email is case insensitive")

	sameName, _ := newPendingUser(t, now, "alice", "other@example.com")
	_, err = store.Create(ctx, sameName)
	assert.True(t, IsKind(err, TextCodeConflict))
}

func TestUsers_ConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	now := NewFakeClock().Now()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)

	for i := 0; i < n; i++ {
		record, _ := newPendingUser(t, now, uuid.NewString()[:8], "race@example.com")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, record)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case IsKind(err, TextCodeConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestUsers_ConsumeTicket(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	clock := NewFakeClock()

	record, ticket := newPendingUser(t, clock.Now(), "alice", "alice@example.com")
	created, err := store.Create(ctx, record)
	require.NoError(t, err)

	_, err = store.ConsumeTicket(ctx, HashTicket("wrong"), clock.Now())
	assert.True(t, IsKind(err, TextCodeInvalidOrExpiredToken))

	verified, err := store.ConsumeTicket(ctx, ticket.Hash, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, created.ID, verified.ID)
	assert.Equal(t, VerificationVerified, verified.VerificationState)
	require.NotNil(t, verified.VerifiedAt)
	assert.True(t, clock.Now().Equal(*verified.VerifiedAt))

	_, err = store.ConsumeTicket(ctx, ticket.Hash, clock.Now())
	assert.True(t, IsKind(err, TextCodeInvalidOrExpiredToken), "single use")

	_, err = store.FindByTicket(ctx, ticket.Hash)
	assert.True(t, IsKind(err, TextCodeNotFound), "secret cleared")

	consumed, err := store.FindByConsumedTicket(ctx, ticket.Hash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, consumed.ID)
}

func TestUsers_ConsumeTicketExpired(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	clock := NewFakeClock()

	record, ticket := newPendingUser(t, clock.Now(), "alice", "alice@example.com")
	created, err := store.Create(ctx, record)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = store.ConsumeTicket(ctx, ticket.Hash, clock.Now())
	assert.True(t, IsKind(err, TextCodeInvalidOrExpiredToken), "expiry is exclusive")

	user, err := store.FindByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, VerificationPending, user.VerificationState)
}

func TestUsers_ConsumeTicketConcurrent(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	clock := NewFakeClock()

	record, ticket := newPendingUser(t, clock.Now(), "alice", "alice@example.com")
	_, err := store.Create(ctx, record)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeTicket(ctx, ticket.Hash, clock.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestUsers_MarkVerified(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	clock := NewFakeClock()

	record, _ := newPendingUser(t, clock.Now(), "alice", "alice@example.com")
	created, err := store.Create(ctx, record)
	require.NoError(t, err)

	verified, err := store.MarkVerified(ctx, created.ID.String(), clock.Now())
	require.NoError(t, err)
	assert.True(t, verified.IsVerified())

	clock.Advance(time.Hour)
	again, err := store.MarkVerified(ctx, created.ID.String(), clock.Now())
	require.NoError(t, err)
	assert.True(t, verified.VerifiedAt.Equal(*again.VerifiedAt), "no-op when already verified")

	_, err = store.MarkVerified(ctx, uuid.NewString(), clock.Now())
	assert.True(t, IsKind(err, TextCodeNotFound))
}

func TestUsers_Update(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	clock := NewFakeClock()

	record, _ := newPendingUser(t, clock.Now(), "alice", "alice@example.com")
	alice, err := store.Create(ctx, record)
	require.NoError(t, err)

	other, _ := newPendingUser(t, clock.Now(), "bob", "bob@example.com")
	_, err = store.Create(ctx, other)
	require.NoError(t, err)

	email := "New@Example.com"
	role := RoleSeller
	updated, err := store.Update(ctx, alice.ID.String(), UserUpdate{Email: &email, Role: &role}, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.Equal(t, RoleSeller, updated.Role)
	assert.Equal(t, VerificationPending, updated.VerificationState, "email change keeps the state")

	taken := "bob"
	_, err = store.Update(ctx, alice.ID.String(), UserUpdate{Username: &taken}, clock.Now())
	assert.True(t, IsKind(err, TextCodeConflict))

	name := "alice2"
	_, err = store.Update(ctx, uuid.NewString(), UserUpdate{Username: &name}, clock.Now())
	assert.True(t, IsKind(err, TextCodeNotFound))

	same, err := store.Update(ctx, alice.ID.String(), UserUpdate{}, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, alice.ID, same.ID)
}

func TestUsers_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := OpenTestRepo(t).Users()
	clock := NewFakeClock()

	ids := []string{}
	for _, name := range []string{"a1", "a2", "a3", "a4", "a5"} {
		record, _ := newPendingUser(t, clock.Now(), name, name+"@example.com")
		u, err := store.Create(ctx, record)
		require.NoError(t, err)
		ids = append(ids, u.ID.String())
	}
	for _, id := range ids[:2] {
		_, err := store.MarkVerified(ctx, id, clock.Now())
		require.NoError(t, err)
	}

	page, total, err := store.List(ctx, ListOptions{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)
	for _, u := range page {
		assert.Empty(t, u.PasswordHash)
	}

	last, _, err := store.List(ctx, ListOptions{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, last, 1)

	require.NoError(t, store.Delete(ctx, ids[4]))
	assert.True(t, IsKind(store.Delete(ctx, ids[4]), TextCodeNotFound))
	assert.True(t, IsKind(store.Delete(ctx, "nope"), TextCodeNotFound))

	_, err = store.DeleteMany(ctx, DeleteFilter{})
	assert.True(t, IsKind(err, TextCodeValidation))

	verified := true
	n, err := store.DeleteMany(ctx, DeleteFilter{Verified: &verified})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.DeleteMany(ctx, DeleteFilter{All: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, total, err = store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestListOptions_Normalize(t *testing.T) {
	assert.Equal(t, ListOptions{Page: 1, Limit: 20}, ListOptions{}.Normalize())
	assert.Equal(t, ListOptions{Page: 2, Limit: 100}, ListOptions{Page: 2, Limit: 500}.Normalize())
	assert.Equal(t, 40, ListOptions{Page: 3, Limit: 20}.Offset())

	huge := ListOptions{Page: math.MaxInt, Limit: 100}
	assert.Equal(t, maxPage, huge.Normalize().Page)
	assert.Equal(t, (maxPage-1)*100, huge.Offset())
}

func TestRunMigrations_UnknownDriver(t *testing.T) {
	repo := OpenTestRepo(t)
	err := RunMigrations(context.Background(), repo.DB().DB, "oracle")
	assert.Error(t, err)
}
