package auth

import (
	"context"
	"testing"
	"time"

	"centsible/internal/apperr"
	"centsible/internal/models"
	"centsible/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SessionManagerTestSuite struct {
	suite.Suite
	db      *storage.DB
	manager *SessionManager
	user    *models.User
	ctx     context.Context
	clock   time.Time
}

func (suite *SessionManagerTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()

	suite.user, err = db.CreateUser(suite.ctx, "testuser", "hash")
	require.NoError(suite.T(), err)

	suite.clock = time.Now()
	suite.manager = NewSessionManager(db, 10*time.Hour)
	suite.manager.now = func() time.Time { return suite.clock }
}

func (suite *SessionManagerTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *SessionManagerTestSuite) TestLoginThenRequire() {
	sess, err := suite.manager.Login(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), sess.Token)
	assert.Equal(suite.T(), suite.clock.Add(10*time.Hour), sess.ExpiresAt)

	got, err := suite.manager.RequireAuthenticated(suite.ctx, sess.Token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.user.ID, got.UserID)
	assert.Equal(suite.T(), "testuser", got.User.Username)
	assert.False(suite.T(), got.Renewed)
}

func (suite *SessionManagerTestSuite) TestRawTokenIsNotStored() {
	sess, err := suite.manager.Login(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)

	_, err = suite.db.ValidateSession(suite.ctx, sess.Token, suite.clock)
	assert.ErrorIs(suite.T(), err, storage.ErrNotFound)
	_, err = suite.db.ValidateSession(suite.ctx, HashToken(sess.Token), suite.clock)
	assert.NoError(suite.T(), err)
}

func (suite *SessionManagerTestSuite) TestRequireRejectsMissingAndUnknown() {
	_, err := suite.manager.RequireAuthenticated(suite.ctx, "")
	assert.ErrorIs(suite.T(), err, apperr.ErrUnauthenticated)

	_, err = suite.manager.RequireAuthenticated(suite.ctx, "not-a-session")
	assert.ErrorIs(suite.T(), err, apperr.ErrUnauthenticated)
}

func (suite *SessionManagerTestSuite) TestLogoutInvalidatesImmediately() {
	sess, err := suite.manager.Login(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), suite.manager.Logout(suite.ctx, sess.Token))

	_, err = suite.manager.RequireAuthenticated(suite.ctx, sess.Token)
	assert.ErrorIs(suite.T(), err, apperr.ErrUnauthenticated)

	assert.ErrorIs(suite.T(), suite.manager.Logout(suite.ctx, ""), apperr.ErrUnauthenticated)
}

func (suite *SessionManagerTestSuite) TestExpiredSessionIsRejected() {
	sess, err := suite.manager.Login(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)

	suite.clock = suite.clock.Add(11 * time.Hour)
	_, err = suite.manager.RequireAuthenticated(suite.ctx, sess.Token)
	assert.ErrorIs(suite.T(), err, apperr.ErrUnauthenticated)
}

func (suite *SessionManagerTestSuite) TestRollingRenewal() {
	sess, err := suite.manager.Login(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)

	// First half of the lifetime: no renewal.
	suite.clock = suite.clock.Add(4 * time.Hour)
	got, err := suite.manager.RequireAuthenticated(suite.ctx, sess.Token)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), got.Renewed)

	// Second half: renewed to a full TTL from now.
	suite.clock = suite.clock.Add(2 * time.Hour)
	got, err = suite.manager.RequireAuthenticated(suite.ctx, sess.Token)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), got.Renewed)
	assert.Equal(suite.T(), suite.clock.Add(10*time.Hour), got.ExpiresAt)

	// Past the first expiry the renewed session is still valid.
	suite.clock = suite.clock.Add(5 * time.Hour)
	_, err = suite.manager.RequireAuthenticated(suite.ctx, sess.Token)
	assert.NoError(suite.T(), err)
}

func (suite *SessionManagerTestSuite) TestPurge() {
	for j := 0; j < 2; j++ {
		_, err := suite.manager.Login(suite.ctx, suite.user.ID)
		require.NoError(suite.T(), err)
	}

	suite.clock = suite.clock.Add(11 * time.Hour)
	n, err := suite.manager.Purge(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), n)
}

func TestSessionManagerSuite(t *testing.T) {
	suite.Run(t, new(SessionManagerTestSuite))
}

func TestNewSessionManagerDefaultTTL(t *testing.T) {
	m := NewSessionManager(nil, 0)
	assert.Equal(t, DefaultSessionTTL, m.TTL())
}
