// ABOUTME: Tests for the users module: register, login, logout, current-user
// ABOUTME: Drives everything through dispatch and asserts via getters

package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ordertrack/internal/auth"
	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/store"
)

func newUsersStore(t *testing.T) (*store.Store, *auth.JWTVerifier) {
	t.Helper()
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	s := store.New(nil, nil, nil)
	require.NoError(t, New(verifier, time.Hour, nil).Register(s))
	return s, verifier
}

func TestUsers_RegisterHashesPassword(t *testing.T) {
	s, _ := newUsersStore(t)

	result, err := s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "hunter2"})
	require.NoError(t, err)

	user := result.(model.User)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "frida", user.Name)
	assert.Equal(t, "member", user.Role)
	require.NotEqual(t, "hunter2", user.PasswordHash)
	assert.NoError(t, auth.CheckPassword(user.PasswordHash, "hunter2"))
}

func TestUsers_RegisterRejectsDuplicateName(t *testing.T) {
	s, _ := newUsersStore(t)

	_, err := s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "a"})
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "b"})
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestUsers_LoginSetsCurrentUserAndIssuesToken(t *testing.T) {
	s, verifier := newUsersStore(t)

	registered, err := s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "hunter2"})
	require.NoError(t, err)

	result, err := s.Dispatch(context.Background(), ActionLogin, Credentials{Name: "frida", Password: "hunter2"})
	require.NoError(t, err)

	session := result.(Session)
	assert.Equal(t, registered.(model.User).ID, session.User.ID)

	userID, err := verifier.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, userID)

	v, err := s.Get(GetterCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, session.User, v.(model.User))
}

func TestUsers_LoginFailuresAreOpaque(t *testing.T) {
	s, _ := newUsersStore(t)

	_, err := s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "hunter2"})
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), ActionLogin, Credentials{Name: "frida", Password: "wrong"})
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.Dispatch(context.Background(), ActionLogin, Credentials{Name: "nobody", Password: "x"})
	assert.ErrorIs(t, err, ErrBadCredentials, "unknown name and wrong password must be indistinguishable")
}

func TestUsers_LogoutClearsCurrentUser(t *testing.T) {
	s, _ := newUsersStore(t)

	_, err := s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "hunter2"})
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), ActionLogin, Credentials{Name: "frida", Password: "hunter2"})
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), ActionLogout, nil)
	require.NoError(t, err)

	v, err := s.Get(GetterCurrentUser)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestUsers_LookupGetters(t *testing.T) {
	s, _ := newUsersStore(t)

	result, err := s.Dispatch(context.Background(), ActionRegister, Credentials{Name: "frida", Password: "x", Role: "admin"})
	require.NoError(t, err)
	user := result.(model.User)

	v, err := s.Get(GetterUserByName)
	require.NoError(t, err)
	byName := v.(func(string) *model.User)
	require.NotNil(t, byName("frida"))
	assert.Equal(t, "admin", byName("frida").Role)
	assert.Nil(t, byName("nobody"))

	v, err = s.Get(GetterUserByID)
	require.NoError(t, err)
	byID := v.(func(string) *model.User)
	require.NotNil(t, byID(user.ID))
	assert.Nil(t, byID("missing"))
}
