package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// E2ETestSuite drives the running server over HTTP with a cookie-keeping
// playwright request context.
type E2ETestSuite struct {
	suite.Suite
	pw     *playwright.Playwright
	api    playwright.APIRequestContext
	expect playwright.PlaywrightAssertions
}

// SetupSuite runs once before all tests
func (suite *E2ETestSuite) SetupSuite() {
	pw, err := playwright.Run()
	require.NoError(suite.T(), err, "could not launch playwright")
	suite.pw = pw
	suite.expect = playwright.NewPlaywrightAssertions()
}

// TearDownSuite runs once after all tests
func (suite *E2ETestSuite) TearDownSuite() {
	if suite.pw != nil {
		suite.pw.Stop()
	}
}

// SetupTest gives each test a fresh cookie jar.
func (suite *E2ETestSuite) SetupTest() {
	api, err := suite.pw.Request.NewContext(playwright.APIRequestNewContextOptions{
		BaseURL: playwright.String(appURL),
	})
	require.NoError(suite.T(), err, "could not create request context")
	suite.api = api
}

func (suite *E2ETestSuite) TearDownTest() {
	if suite.api != nil {
		suite.api.Dispose()
	}
}

func (suite *E2ETestSuite) post(path string, data any) playwright.APIResponse {
	resp, err := suite.api.Post(path, playwright.APIRequestContextPostOptions{Data: data})
	require.NoError(suite.T(), err, "POST %s", path)
	return resp
}

func (suite *E2ETestSuite) get(path string) playwright.APIResponse {
	resp, err := suite.api.Get(path)
	require.NoError(suite.T(), err, "GET %s", path)
	return resp
}

func (suite *E2ETestSuite) login(username, password string) {
	resp := suite.post("/signin/", map[string]string{"username": username, "password": password})
	require.NoError(suite.T(), suite.expect.APIResponse(resp).ToBeOK(), "login failed")
}

func (suite *E2ETestSuite) TestCompleteUserFlow() {
	suite.login(adminUser, adminPassword)

	// Create a transaction
	resp := suite.post("/transactions/", map[string]string{
		"amount":           "12.50",
		"category":         "Groceries",
		"date":             "2024-01-15",
		"transaction_type": "expense",
	})
	require.Equal(suite.T(), http.StatusCreated, resp.Status())

	var created map[string]any
	require.NoError(suite.T(), resp.JSON(&created))
	assert.Equal(suite.T(), "12.50", created["amount"])

	// It shows up in the list
	resp = suite.get("/transactions/")
	require.NoError(suite.T(), suite.expect.APIResponse(resp).ToBeOK())
	var list []map[string]any
	require.NoError(suite.T(), resp.JSON(&list))
	require.NotEmpty(suite.T(), list)
	assert.Equal(suite.T(), created["id"], list[0]["id"])

	// Patch then delete it
	detail := fmt.Sprintf("/transactions/%v/", created["id"])
	resp, err := suite.api.Patch(detail, playwright.APIRequestContextPatchOptions{
		Data: map[string]string{"category": "Food"},
	})
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.expect.APIResponse(resp).ToBeOK())

	resp, err = suite.api.Delete(detail)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusNoContent, resp.Status())

	// Sign out; the session is gone
	resp = suite.post("/signout/", nil)
	require.NoError(suite.T(), suite.expect.APIResponse(resp).ToBeOK())

	resp = suite.get("/transactions/")
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.Status())
}

func (suite *E2ETestSuite) TestUsersAreIsolated() {
	resp := suite.post("/signup/", map[string]string{"username": "e2e_bob", "password": "bobpass"})
	require.Equal(suite.T(), http.StatusCreated, resp.Status())

	suite.login("e2e_bob", "bobpass")
	resp = suite.get("/transactions/")
	require.NoError(suite.T(), suite.expect.APIResponse(resp).ToBeOK())

	var list []map[string]any
	require.NoError(suite.T(), resp.JSON(&list))
	assert.Empty(suite.T(), list, "a new user starts with an empty ledger")
}

func (suite *E2ETestSuite) TestRejectsAnonymous() {
	resp := suite.get("/transactions/")
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.Status())

	resp = suite.post("/signin/", map[string]string{"username": adminUser, "password": "wrong"})
	assert.Equal(suite.T(), http.StatusBadRequest, resp.Status())
}

// TestE2ESuite runs the e2e test suite
func TestE2ESuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
