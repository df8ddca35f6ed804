package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAuthenticatorDisabledWithoutSecret(t *testing.T) {
	require.Nil(t, NewAuthenticator(""))
	var a *Authenticator
	require.False(t, a.Enabled())
}

func TestAuthenticatorIssueAndValidate(t *testing.T) {
	a := NewAuthenticator("test-secret")
	require.True(t, a.Enabled())

	token, err := a.Issue("proc-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, a.Validate(token, "proc-1"))
}

func TestAuthenticatorRejectsWrongProcess(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.Issue("proc-1", time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, a.Validate(token, "proc-2"), ErrInvalidToken)
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.Issue("proc-1", -time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, a.Validate(token, "proc-1"), ErrInvalidToken)
}

func TestAuthenticatorRejectsWrongSecret(t *testing.T) {
	a := NewAuthenticator("test-secret")
	other := NewAuthenticator("different-secret")
	token, err := a.Issue("proc-1", time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, other.Validate(token, "proc-1"), ErrInvalidToken)
}

func TestBearerTokenExtraction(t *testing.T) {
	require.Equal(t, "abc123", bearerToken("Bearer abc123"))
	require.Equal(t, "abc123", bearerToken("bearer   abc123"))
	require.Equal(t, "", bearerToken(""))
	require.Equal(t, "", bearerToken("Basic abc123"))
}
