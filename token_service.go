package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultTokenTTL is the session lifetime when none is configured
const DefaultTokenTTL = 30 * 24 * time.Hour

// TokenService mints and validates session tokens
type TokenService interface {
	Generate(ctx context.Context, identity Identity) (string, time.Time, error)
	SignClaims(ctx context.Context, claims *JWTClaims) (string, error)
	Validate(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	keyID      string
	previous   [][]byte
	keys       jwt.Keyfunc
	ttl        time.Duration
	issuer     string
	clock      Clock
	pool       *WorkerPool
	logger     Logger
}

// TokenServiceOption configures a TokenServiceImpl
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock sets the time source used for iat, exp and validation
func WithTokenClock(c Clock) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.clock = normalizeClock(c)
	}
}

// WithTokenWorkerPool runs signing through pool
func WithTokenWorkerPool(pool *WorkerPool) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.pool = pool
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.logger = normalizeLogger(logger)
	}
}

// WithPreviousSigningKeys keeps accepting tokens signed with rotated keys.
// New tokens are always signed with the current key.
func WithPreviousSigningKeys(keys ...[]byte) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		for _, key := range keys {
			if len(key) > 0 {
				ts.previous = append(ts.previous, key)
			}
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, opts ...TokenServiceOption) *TokenServiceImpl {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	ts := &TokenServiceImpl{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		clock:      SystemClock,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	ts.keyID = signingKeyID(signingKey)
	given := map[string]keyfunc.GivenKey{
		ts.keyID: givenHMACKey(signingKey),
	}
	for _, key := range ts.previous {
		kid := signingKeyID(key)
		if _, ok := given[kid]; !ok {
			given[kid] = givenHMACKey(key)
		}
	}
	ts.keys = keyfunc.NewGiven(given).Keyfunc

	return ts
}

// signingKeyID names a key in the kid header without revealing it
func signingKeyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

func givenHMACKey(key []byte) keyfunc.GivenKey {
	return keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
		Algorithm: jwt.SigningMethodHS256.Alg(),
	})
}

// KeyID returns the kid stamped on new tokens
func (ts *TokenServiceImpl) KeyID() string {
	return ts.keyID
}

// TTL returns the session lifetime
func (ts *TokenServiceImpl) TTL() time.Duration {
	return ts.ttl
}

// Generate creates a token for identity, returning it with its expiry
func (ts *TokenServiceImpl) Generate(ctx context.Context, identity Identity) (string, time.Time, error) {
	if identity == nil {
		return "", time.Time{}, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := ts.clock.Now()
	expiresAt := now.Add(ts.ttl)
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:      identity.ID(),
		UserRole: identity.Role(),
	}

	ensureTokenID(&claims.RegisteredClaims)

	token, err := ts.SignClaims(ctx, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(ctx context.Context, claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	var signed string
	err := ts.pool.Do(ctx, func() error {
		var err error
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		token.Header["kid"] = ts.keyID
		signed, err = token.SignedString(ts.signingKey)
		return err
	})
	if err != nil {
		return "", internalError(err, "failed to sign JWT")
	}

	return signed, nil
}

// Validate parses and validates a token string in the worker pool. Every
// token failure is reported as ErrUnauthorized with the reason in the metadata.
func (ts *TokenServiceImpl) Validate(ctx context.Context, tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, withDetails(ErrUnauthorized, map[string]any{"reason": "missing"})
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	var (
		token *jwt.Token
		err   error
	)
	if perr := ts.pool.Do(ctx, func() error {
		token, err = jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return ts.keys(t)
		}, parserOptions...)
		return nil
	}); perr != nil {
		return nil, errors.Wrap(perr, errors.CategoryOperation, "token validation cancelled")
	}

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, withDetails(ErrUnauthorized, map[string]any{"reason": "expired"})
		}
		ts.logger.Debug("TokenService validate rejected token", "error", err)
		return nil, withDetails(ErrUnauthorized, map[string]any{"reason": "invalid"})
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID() == "" {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, withDetails(ErrUnauthorized, map[string]any{"reason": "invalid"})
	}

	return claims, nil
}
