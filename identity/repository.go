package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/coursegate/internal/util"
	"github.com/jmcleod/coursegate/internal/uuid"
	"github.com/jmcleod/coursegate/storage"
)

const (
	identityBucket  = "identity"
	userRecordType  = "USER"
	emailRecordType = "EMAIL"
	grantRecordType = "GRANT"
)

// RepositoryStore implements Store and PermissionStore on top of a
// storage.Repository.
type RepositoryStore struct {
	repo       storage.Repository
	bcryptCost int
	now        func() time.Time
	// dummyHash is compared against when an unknown email logs in so both
	// paths pay the bcrypt cost.
	dummyHash []byte
}

var (
	_ Store           = (*RepositoryStore)(nil)
	_ PermissionStore = (*RepositoryStore)(nil)
)

// Option configures a RepositoryStore.
type Option func(*RepositoryStore)

// WithBcryptCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *RepositoryStore) {
		s.bcryptCost = cost
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *RepositoryStore) {
		s.now = now
	}
}

// NewRepositoryStore creates an identity store backed by repo.
func NewRepositoryStore(repo storage.Repository, opts ...Option) *RepositoryStore {
	s := &RepositoryStore{
		repo:       repo,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("coursegate-dummy-password"), s.bcryptCost)
	return s
}

// CreateUser registers a new active user with a bcrypt password hash.
func (s *RepositoryStore) CreateUser(ctx context.Context, email, password string, role Role) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%q: %w", role, ErrInvalidRole)
	}
	emailKey := util.NormalizeIdentity(email)
	if emailKey == "" || !strings.Contains(emailKey, "@") {
		return nil, fmt.Errorf("invalid email %q", email)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:           uuid.New(),
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data, err := marshalUser(user)
	if err != nil {
		return nil, err
	}
	err = s.repo.Batch(identityBucket, func(tx storage.BatchTx) error {
		if _, err := tx.Get(emailRecordType, emailKey); err == nil {
			return ErrEmailTaken
		}
		if err := tx.Put(emailRecordType, emailKey, []byte(user.ID)); err != nil {
			return err
		}
		return tx.Put(userRecordType, user.ID, data)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUserByID implements Store.
func (s *RepositoryStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user User
	if err := storage.GetJSON(s.repo, identityBucket, userRecordType, id, &user); err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user %s: %w", id, err)
	}
	return &user, nil
}

// FindUserByEmail looks a user up by normalised email.
func (s *RepositoryStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := s.repo.Get(identityBucket, emailRecordType, util.NormalizeIdentity(email))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up email: %w", err)
	}
	return s.FindUserByID(ctx, string(id))
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// both return ErrInvalidCredentials. Deactivated users authenticate
// successfully here; callers decide what to do with them.
func (s *RepositoryStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// SetActive activates or deactivates a user. Deactivation takes effect on
// the user's next request because the pipeline reloads the user every time.
func (s *RepositoryStore) SetActive(ctx context.Context, id string, active bool) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user *User
	err := s.repo.Batch(identityBucket, func(tx storage.BatchTx) error {
		data, err := tx.Get(userRecordType, id)
		if storage.IsNotFound(err) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if user, err = unmarshalUser(data); err != nil {
			return fmt.Errorf("decoding user %s: %w", id, err)
		}
		user.Active = active
		user.UpdatedAt = s.now().UTC()
		if data, err = marshalUser(user); err != nil {
			return err
		}
		return tx.Put(userRecordType, user.ID, data)
	})
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("saving user %s: %w", id, err)
	}
	return user, nil
}

func grantID(userID string, p Permission) string {
	return userID + "/" + p.String()
}

// SetGrant records a per-user override, replacing any previous override for
// the same permission.
func (s *RepositoryStore) SetGrant(ctx context.Context, userID string, grant Grant) error {
	if _, err := s.FindUserByID(ctx, userID); err != nil {
		return err
	}
	if grant.Effect != EffectGrant && grant.Effect != EffectRevoke {
		return fmt.Errorf("unknown effect %q", grant.Effect)
	}
	if _, err := ParsePermission(grant.Permission.String()); err != nil {
		return err
	}
	return storage.PutJSON(s.repo, identityBucket, grantRecordType, grantID(userID, grant.Permission), grant)
}

// ClearGrant removes a per-user override so the role default applies again.
func (s *RepositoryStore) ClearGrant(ctx context.Context, userID string, p Permission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.repo.Delete(identityBucket, grantRecordType, grantID(userID, p))
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}

// UserPermissions implements PermissionStore.
func (s *RepositoryStore) UserPermissions(ctx context.Context, userID string) ([]Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := userID + "/"
	var grants []Grant
	err := s.repo.Scan(identityBucket, grantRecordType, prefix, func(id string, data []byte) error {
		if !strings.HasPrefix(id, prefix) {
			return storage.ErrStopScan
		}
		g, err := unmarshalGrant(data)
		if err != nil {
			return fmt.Errorf("grant %s: %w", id, err)
		}
		grants = append(grants, g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading permissions for %s: %w", userID, err)
	}
	return grants, nil
}
