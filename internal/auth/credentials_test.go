package auth

import (
	"context"
	"strings"
	"sync"
	"testing"

	"centsible/internal/apperr"
	"centsible/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type CredentialStoreTestSuite struct {
	suite.Suite
	db    *storage.DB
	store *CredentialStore
	ctx   context.Context
}

func (suite *CredentialStoreTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.store = NewCredentialStore(db, bcrypt.MinCost)
	suite.ctx = context.Background()
}

func (suite *CredentialStoreTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *CredentialStoreTestSuite) TestCreateThenAuthenticate() {
	user, err := suite.store.CreateUser(suite.ctx, "alice", "s3cret")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "alice", user.Username)
	assert.NotZero(suite.T(), user.ID)

	got, err := suite.store.Authenticate(suite.ctx, "alice", "s3cret")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), user.ID, got.ID)
}

func (suite *CredentialStoreTestSuite) TestPasswordIsStoredHashed() {
	_, err := suite.store.CreateUser(suite.ctx, "alice", "s3cret")
	require.NoError(suite.T(), err)

	stored, err := suite.db.GetUserByUsername(suite.ctx, "alice")
	require.NoError(suite.T(), err)
	assert.NotEqual(suite.T(), "s3cret", stored.PasswordHash)
	assert.True(suite.T(), strings.HasPrefix(stored.PasswordHash, "$2"), "expected a bcrypt hash")
	assert.True(suite.T(), CheckPassword("s3cret", stored.PasswordHash))
}

func (suite *CredentialStoreTestSuite) TestDuplicateUsername() {
	_, err := suite.store.CreateUser(suite.ctx, "alice", "one")
	require.NoError(suite.T(), err)

	for _, pw := range []string{"one", "two"} {
		_, err = suite.store.CreateUser(suite.ctx, "alice", pw)
		assert.ErrorIs(suite.T(), err, apperr.ErrDuplicateUsername)
	}
}

func (suite *CredentialStoreTestSuite) TestCreateUserValidation() {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "pw"},
		{"empty password", "alice", ""},
		{"whitespace username", "al ice", "pw"},
		{"too long username", strings.Repeat("a", MaxUsernameLength+1), "pw"},
		{"password over bcrypt limit", "alice", strings.Repeat("p", 73)},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.store.CreateUser(suite.ctx, tt.username, tt.password)
			assert.ErrorIs(suite.T(), err, apperr.ErrValidation)
		})
	}

	n, err := suite.db.UserCount(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), n, "no user should be persisted")
}

func (suite *CredentialStoreTestSuite) TestAuthenticateDoesNotRevealCause() {
	_, err := suite.store.CreateUser(suite.ctx, "alice", "s3cret")
	require.NoError(suite.T(), err)

	_, wrongPassword := suite.store.Authenticate(suite.ctx, "alice", "nope")
	_, unknownUser := suite.store.Authenticate(suite.ctx, "mallory", "s3cret")

	require.Error(suite.T(), wrongPassword)
	require.Error(suite.T(), unknownUser)
	assert.ErrorIs(suite.T(), wrongPassword, apperr.ErrInvalidCredentials)
	assert.ErrorIs(suite.T(), unknownUser, apperr.ErrInvalidCredentials)
	assert.Equal(suite.T(), wrongPassword.Error(), unknownUser.Error())
	assert.Equal(suite.T(), apperr.Message(wrongPassword), apperr.Message(unknownUser))
}

func (suite *CredentialStoreTestSuite) TestConcurrentSignupsSameName() {
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = suite.store.CreateUser(suite.ctx, "racer", "pw")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(suite.T(), err, apperr.ErrDuplicateUsername)
	}
	assert.Equal(suite.T(), 1, succeeded)
}

func TestCredentialStoreSuite(t *testing.T) {
	suite.Run(t, new(CredentialStoreTestSuite))
}

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"john.doe+test@example-1_x", "josé", "Zoë", "李雷", "jose\u0301", "Ольга_2"} {
		assert.NoError(t, ValidateUsername(name), name)
	}
	for _, name := range []string{"john doe", "john/doe", "tab\tname", "emoji😀", strings.Repeat("a", MaxUsernameLength+1)} {
		assert.ErrorIs(t, ValidateUsername(name), apperr.ErrValidation, name)
	}
	assert.NoError(t, ValidateUsername(strings.Repeat("é", MaxUsernameLength)))
}

func TestGenerateSessionTokenIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for j := 0; j < 100; j++ {
		tok, err := GenerateSessionToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
	assert.Len(t, HashToken("abc"), 64)
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}
