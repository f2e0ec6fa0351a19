package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the credential store. Apart from FindCredentialsByEmail no method
// returns the password hash.
type Users interface {
	Create(ctx context.Context, record *User) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindCredentialsByEmail(ctx context.Context, email string) (*User, error)
	FindByTicket(ctx context.Context, secretHash string) (*User, error)
	FindByConsumedTicket(ctx context.Context, secretHash string) (*User, error)
	ConsumeTicket(ctx context.Context, secretHash string, now time.Time) (*User, error)
	MarkVerified(ctx context.Context, id string, now time.Time) (*User, error)
	Update(ctx context.Context, id string, update UserUpdate, now time.Time) (*User, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, filter DeleteFilter) (int64, error)
	List(ctx context.Context, opts ListOptions) ([]*User, int, error)
}

type users struct {
	base repository.Repository[*User]
	db   bun.IDB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns a bun backed Users store
func NewUsersRepository(db *bun.DB) Users {
	base := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		base: base,
		db:   db,
	}
}

func selectPublic(q *bun.SelectQuery) *bun.SelectQuery {
	return q.ExcludeColumn("password_hash", "verification_secret_hash", "consumed_ticket_hash")
}

// Create inserts a new account. A duplicate email or username is reported
// as ErrConflict, whoever loses the race.
func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)

	if _, err := a.base.CreateTx(ctx, a.db, record); err != nil {
		return nil, mapStoreError(err, "failed to create user")
	}

	return a.FindByID(ctx, record.ID.String())
}

func (a *users) FindByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, withDetails(ErrIdentityNotFound, map[string]any{"id": id})
	}

	user, err := a.base.GetByID(ctx, strings.TrimSpace(id), selectPublic)
	if err != nil {
		return nil, mapStoreError(err, "failed to load user")
	}
	return user, nil
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.findOne(ctx, "email", NormalizeEmail(email), selectPublic)
}

func (a *users) FindByUsername(ctx context.Context, username string) (*User, error) {
	return a.findOne(ctx, "username", strings.TrimSpace(username), selectPublic)
}

// FindCredentialsByEmail is the only read that loads the password hash
func (a *users) FindCredentialsByEmail(ctx context.Context, email string) (*User, error) {
	return a.findOne(ctx, "email", NormalizeEmail(email))
}

func (a *users) FindByTicket(ctx context.Context, secretHash string) (*User, error) {
	return a.findOne(ctx, "verification_secret_hash", secretHash, selectPublic)
}

func (a *users) FindByConsumedTicket(ctx context.Context, secretHash string) (*User, error) {
	return a.findOne(ctx, "consumed_ticket_hash", secretHash, selectPublic)
}

func (a *users) findOne(ctx context.Context, column, value string, criteria ...repository.SelectCriteria) (*User, error) {
	if value == "" {
		return nil, ErrIdentityNotFound.Clone()
	}

	record := &User{}
	q := a.db.NewSelect().Model(record)
	for _, c := range criteria {
		q = c(q)
	}

	err := q.
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, withDetails(ErrIdentityNotFound, map[string]any{column: value})
		}
		return nil, internalError(err, "failed to load user")
	}
	return record, nil
}

// ConsumeTicket flips the pending account holding secretHash to verified in
// a single conditional statement. Two concurrent calls cannot both win.
func (a *users) ConsumeTicket(ctx context.Context, secretHash string, now time.Time) (*User, error) {
	now = now.UTC()

	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("verification_state = ?", VerificationVerified).
		Set("verification_secret_hash = NULL").
		Set("verification_expires_at = NULL").
		Set("consumed_ticket_hash = ?", secretHash).
		Set("verified_at = ?", now).
		Set("updated_at = ?", now).
		Where("verification_secret_hash = ?", secretHash).
		Where("verification_state = ?", VerificationPending).
		Where("verification_expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return nil, internalError(err, "failed to consume verification ticket")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidOrExpiredToken.Clone()
	}

	return a.FindByConsumedTicket(ctx, secretHash)
}

// MarkVerified verifies the account without a ticket. It is a no-op for an
// account that is already verified.
func (a *users) MarkVerified(ctx context.Context, id string, now time.Time) (*User, error) {
	user, err := a.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsVerified() {
		return user, nil
	}

	now = now.UTC()
	_, err = a.db.NewUpdate().
		Model((*User)(nil)).
		Set("verification_state = ?", VerificationVerified).
		Set("verification_secret_hash = NULL").
		Set("verification_expires_at = NULL").
		Set("verified_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", user.ID).
		Where("verification_state = ?", VerificationPending).
		Exec(ctx)
	if err != nil {
		return nil, mapStoreError(err, "failed to verify user")
	}

	// a concurrent verification may have won, either way the account is verified
	return a.FindByID(ctx, id)
}

// Update applies the non nil fields of update. The verification state is
// never changed here.
func (a *users) Update(ctx context.Context, id string, update UserUpdate, now time.Time) (*User, error) {
	if update.IsEmpty() {
		return a.FindByID(ctx, id)
	}

	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, withDetails(ErrIdentityNotFound, map[string]any{"id": id})
	}

	q := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("updated_at = ?", now.UTC())

	if update.Username != nil {
		q = q.Set("username = ?", strings.TrimSpace(*update.Username))
	}
	if update.Email != nil {
		q = q.Set("email = ?", NormalizeEmail(*update.Email))
	}
	if update.PasswordHash != nil {
		q = q.Set("password_hash = ?", *update.PasswordHash)
	}
	if update.Role != nil {
		q = q.Set("role = ?", *update.Role)
	}

	res, err := q.Where("id = ?", uid).Exec(ctx)
	if err != nil {
		return nil, mapStoreError(err, "failed to update user")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, withDetails(ErrIdentityNotFound, map[string]any{"id": id})
	}

	return a.FindByID(ctx, uid.String())
}

func (a *users) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return withDetails(ErrIdentityNotFound, map[string]any{"id": id})
	}

	res, err := a.db.NewDelete().
		Model((*User)(nil)).
		Where("id = ?", uid).
		Exec(ctx)
	if err != nil {
		return internalError(err, "failed to delete user")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return withDetails(ErrIdentityNotFound, map[string]any{"id": id})
	}
	return nil
}

// DeleteMany removes every account matching filter and returns the count
func (a *users) DeleteMany(ctx context.Context, filter DeleteFilter) (int64, error) {
	q := a.db.NewDelete().Model((*User)(nil))

	switch {
	case filter.All:
		q = q.Where("1 = 1")
	case filter.Verified != nil && *filter.Verified:
		q = q.Where("verification_state = ?", VerificationVerified)
	case filter.Verified != nil:
		q = q.Where("verification_state = ?", VerificationPending)
	default:
		return 0, withDetails(ErrValidation, map[string]any{"filter": "a selector is required"})
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, internalError(err, "failed to delete users")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, internalError(err, "failed to count deleted users")
	}
	return n, nil
}

// List returns a page of accounts ordered by creation time and the total count
func (a *users) List(ctx context.Context, opts ListOptions) ([]*User, int, error) {
	opts = opts.Normalize()

	var records []*User
	q := a.db.NewSelect().Model(&records)
	total, err := selectPublic(q).
		OrderExpr("created_at ASC, id ASC").
		Limit(opts.Limit).
		Offset(opts.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, internalError(err, "failed to list users")
	}
	return records, total, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.Role == "" {
		record.Role = DefaultRole
	}

	if record.VerificationState == "" {
		record.VerificationState = VerificationPending
	}

	if record.VerificationExpiresAt != nil {
		expiresAt := record.VerificationExpiresAt.UTC()
		record.VerificationExpiresAt = &expiresAt
	}

	record.Email = NormalizeEmail(record.Email)
	record.Username = strings.TrimSpace(record.Username)
}

// NormalizeEmail is the canonical form used for storage and lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
