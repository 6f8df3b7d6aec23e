package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "effortlesshrm"
)

func TestValidateIssuedToken(t *testing.T) {
	v := NewVerifier(testSecret, testIssuer)
	token, err := IssueToken(testSecret, testIssuer, "u1", []string{PermissionMonitor}, time.Minute)
	require.NoError(t, err)

	claims, err := v.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.True(t, claims.Has(PermissionMonitor))
	assert.False(t, claims.Has(PermissionPublish))
}

func TestValidateRejects(t *testing.T) {
	v := NewVerifier(testSecret, testIssuer)

	_, err := v.ValidateToken("")
	assert.ErrorIs(t, err, ErrTokenEmpty)

	wrongKey, err := IssueToken("other-secret", testIssuer, "u1", nil, time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(wrongKey)
	assert.Error(t, err)

	wrongIssuer, err := IssueToken(testSecret, "someone-else", "u1", nil, time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(wrongIssuer)
	assert.ErrorContains(t, err, "invalid issuer")

	expired, err := IssueToken(testSecret, testIssuer, "u1", nil, -time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(expired)
	assert.Error(t, err)

	noSubject, err := IssueToken(testSecret, testIssuer, "", nil, time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(noSubject)
	assert.ErrorContains(t, err, "subject")
}

func TestCanWatch(t *testing.T) {
	self := &Claims{}
	self.Subject = "u1"
	assert.True(t, self.CanWatch("u1"))
	assert.False(t, self.CanWatch("u2"))

	admin := &Claims{Permissions: []string{PermissionMonitor}}
	admin.Subject = "admin"
	assert.True(t, admin.CanWatch("u2"))

	var none *Claims
	assert.False(t, none.CanWatch("u1"))
	assert.False(t, none.Has(PermissionMonitor))
}

func TestAuthorizeDisabled(t *testing.T) {
	v := NewVerifier("", "")
	assert.False(t, v.Enabled())

	claims, err := v.Authorize(httptest.NewRequest("GET", "/ws", nil))
	assert.NoError(t, err)
	assert.Nil(t, claims)
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", ExtractTokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", ExtractTokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	assert.Empty(t, ExtractTokenFromRequest(r))
}
