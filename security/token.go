package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/coursegate/identity"
	"github.com/jmcleod/coursegate/internal/util"
	"github.com/jmcleod/coursegate/internal/uuid"
)

const (
	DefaultTokenTTL      = time.Hour
	DefaultLookupTimeout = 3 * time.Second
	DefaultIssuer        = "coursegate"
	minSecretLength      = 32
)

var ErrWeakSecret = fmt.Errorf("signing secret must be at least %d bytes", minSecretLength)

// Principal is the authenticated caller of a request. It is rebuilt from
// live identity and permission state on every request.
type Principal struct {
	UserID      string
	Email       string
	Role        identity.Role
	Permissions PermissionSet
	SessionID   string
}

// IssuedToken is the result of a successful login.
type IssuedToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenClaims struct {
	SessionID string `json:"sid"`
	jwtlib.RegisteredClaims
}

// TokenService signs and validates bearer tokens bound to sessions.
type TokenService struct {
	secret   *memguard.Enclave
	issuer   string
	ttl      time.Duration
	timeout  time.Duration
	sessions SessionStore
	users    identity.Store
	perms    *PermissionResolver
	now      func() time.Time
}

type TokenOption func(*TokenService)

func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLookupTimeout bounds each identity, session and permission lookup.
func WithLookupTimeout(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService creates a TokenService. The secret is copied into an
// encrypted enclave; the caller's slice is left untouched.
func NewTokenService(secret []byte, sessions SessionStore, users identity.Store, perms *PermissionResolver, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	s := &TokenService{
		secret:   memguard.NewEnclave(util.CopyBytes(secret)),
		issuer:   DefaultIssuer,
		ttl:      DefaultTokenTTL,
		timeout:  DefaultLookupTimeout,
		sessions: sessions,
		users:    users,
		perms:    perms,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL is the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue creates a session for user and signs a token bound to it.
func (s *TokenService) Issue(ctx context.Context, user *identity.User) (IssuedToken, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sess, err := s.sessions.Create(lookupCtx, user.ID, s.ttl)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("creating session: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := tokenClaims{
		SessionID: sess.ID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			ID:        uuid.New(),
		},
	}

	key, err := s.secret.Open()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("opening signing key: %w", err)
	}
	defer key.Destroy()

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return IssuedToken{}, fmt.Errorf("signing token: %w", err)
	}
	return IssuedToken{Token: signed, SessionID: sess.ID, ExpiresAt: expiresAt}, nil
}

// parse verifies signature, issuer and expiry.
func (s *TokenService) parse(bearer string) (*tokenClaims, *Error) {
	key, err := s.secret.Open()
	if err != nil {
		return nil, newError(KindInternal, fmt.Errorf("opening signing key: %w", err))
	}
	defer key.Destroy()

	claims := &tokenClaims{}
	_, err = jwtlib.ParseWithClaims(bearer, claims,
		func(*jwtlib.Token) (any, error) { return key.Bytes(), nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(s.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return nil, newError(KindTokenExpired, err)
	default:
		return nil, newError(KindTokenInvalid, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, newError(KindTokenInvalid, errors.New("token missing subject or session"))
	}
	return claims, nil
}

// Subject returns the user id of a correctly signed, unexpired token
// without touching any store.
func (s *TokenService) Subject(bearer string) (string, bool) {
	if bearer == "" {
		return "", false
	}
	claims, err := s.parse(bearer)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}

// Validate resolves bearer to a Principal. Failures are *Error values
// whose Kind distinguishes the cause. Store errors other than not-found
// are reported as KindAuthRequired.
func (s *TokenService) Validate(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, newError(KindAuthRequired, nil)
	}
	claims, perr := s.parse(bearer)
	if perr != nil {
		return nil, perr
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, newError(KindTokenInvalid, err)
	case err != nil:
		return nil, newError(KindAuthRequired, fmt.Errorf("loading session: %w", err))
	case sess.Revoked:
		return nil, newError(KindTokenInvalid, ErrSessionRevoked)
	case sess.UserID != claims.Subject:
		return nil, newError(KindTokenInvalid, errors.New("session belongs to another user"))
	}

	user, err := s.users.FindUserByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return nil, newError(KindUserNotFound, err)
	case err != nil:
		return nil, newError(KindAuthRequired, fmt.Errorf("loading user: %w", err))
	case !user.Active:
		return nil, newError(KindAccountDeactivated, nil)
	}

	perms, err := s.perms.Resolve(ctx, user)
	if err != nil {
		return nil, newError(KindAuthRequired, err)
	}
	return &Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Permissions: perms,
		SessionID:   sess.ID,
	}, nil
}

// Revoke ends a session. Tokens bound to it fail validation from the
// next request on.
func (s *TokenService) Revoke(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeUser ends every session of userID.
func (s *TokenService) RevokeUser(ctx context.Context, userID string) (int, error) {
	return s.sessions.RevokeUser(ctx, userID)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
