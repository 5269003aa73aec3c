package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"centsible/internal/apperr"
	"centsible/internal/models"
	"centsible/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

// MaxUsernameLength is the longest accepted username.
const MaxUsernameLength = 150

var usernameRE = regexp.MustCompile(`^[\p{L}\p{M}\p{N}_.@+-]+$`)

// UserRepository is the persistence the credential store needs.
type UserRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// CredentialStore creates users and verifies username/password pairs.
type CredentialStore struct {
	users UserRepository
	cost  int

	dummyOnce sync.Once
	dummyHash string
}

// NewCredentialStore returns a store hashing with the given bcrypt cost.
// A cost of 0 selects bcrypt.DefaultCost.
func NewCredentialStore(users UserRepository, cost int) *CredentialStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &CredentialStore{users: users, cost: cost}
}

// ValidateUsername checks the shape of a username.
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return apperr.Validation("Username and password are required")
	case len([]rune(username)) > MaxUsernameLength:
		return apperr.Validation("Username must be at most %d characters", MaxUsernameLength)
	case !usernameRE.MatchString(username):
		return apperr.Validation("Username may contain only letters, digits and @/./+/-/_ characters")
	}
	return nil
}

// CreateUser registers a new user. The password is stored only as a bcrypt hash.
func (s *CredentialStore) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("Username and password are required")
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil, apperr.ErrDuplicateUsername
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPasswordCost(password, s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, apperr.Validation("Password must be at most 72 bytes")
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if errors.Is(err, storage.ErrDuplicate) {
		// lost a race with a concurrent sign-up
		return nil, apperr.ErrDuplicateUsername
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate returns the user matching username and password. Unknown
// usernames and wrong passwords both yield apperr.ErrInvalidCredentials.
func (s *CredentialStore) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		// Burn a comparison so unknown usernames cost the same as wrong passwords.
		CheckPassword(password, s.dummy())
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !CheckPassword(password, user.PasswordHash) {
		return nil, apperr.ErrInvalidCredentials
	}
	return user, nil
}

func (s *CredentialStore) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPasswordCost("centsible-dummy-password", s.cost)
	})
	return s.dummyHash
}
