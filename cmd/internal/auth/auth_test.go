package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/password"
)

func fastHasher() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestChain(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	calls := 0
	skip := AuthenticatorFunc(func(context.Context, Request) (Grant, error) {
		calls++
		return Grant{}, ErrNoCredentials
	})
	fail := AuthenticatorFunc(func(context.Context, Request) (Grant, error) {
		calls++
		return Grant{}, errBoom
	})
	ok := AuthenticatorFunc(func(context.Context, Request) (Grant, error) {
		calls++
		return Grant{Subject: "ok"}, nil
	})

	ctx := context.Background()

	g, err := Chain{skip, nil, ok, fail}.Authenticate(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", g.Subject)
	assert.Equal(t, 2, calls)

	_, err = Chain{skip, fail, ok}.Authenticate(ctx, Request{})
	require.ErrorIs(t, err, errBoom)

	_, err = Chain{skip, skip}.Authenticate(ctx, Request{})
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = Chain{}.Authenticate(ctx, Request{})
	require.ErrorIs(t, err, ErrNoCredentials)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Chain{ok}.Authenticate(cancelled, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPasswordAuthenticator(t *testing.T) {
	t.Parallel()

	hasher := fastHasher()
	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)

	a := NewPasswordAuthenticator(hasher, hash, "", []string{"admin"})
	ctx := context.Background()

	_, err = a.Authenticate(ctx, Request{Token: "tok"})
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = a.Authenticate(ctx, Request{Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, Request{Role: "node", Password: "correct horse battery staple"})
	require.ErrorIs(t, err, ErrRoleMismatch)

	g, err := a.Authenticate(ctx, Request{Password: "correct horse battery staple", DeviceID: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, "operator", g.Subject)
	assert.Equal(t, "operator", g.Role)
	assert.Equal(t, []string{"admin"}, g.Scopes)
	assert.Equal(t, MethodPassword, g.Method)
	assert.Equal(t, "laptop", g.DeviceID)

	broken := NewPasswordAuthenticator(hasher, "not-a-hash", "op", nil)
	_, err = broken.Authenticate(ctx, Request{Password: "x"})
	require.ErrorIs(t, err, ErrConfig)
}

func TestAnonymous(t *testing.T) {
	t.Parallel()

	g, err := Anonymous{Scopes: []string{"read"}}.Authenticate(context.Background(), Request{Role: "node", DeviceID: "d"})
	require.NoError(t, err)
	assert.Equal(t, "node", g.Role)
	assert.Equal(t, []string{"read"}, g.Scopes)
	assert.Equal(t, MethodAnonymous, g.Method)
}

func TestNew_Chain(t *testing.T) {
	t.Parallel()

	_, _, err := New(Config{}, fastHasher(), nil)
	require.ErrorIs(t, err, ErrConfig)

	tm, cfg := newTestTokens(t)
	hasher := fastHasher()
	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	cfg.OperatorPasswordHash = hash

	a, tokens, err := New(cfg, hasher, nil)
	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.Equal(t, tm.PublicKeyHex(), tokens.PublicKeyHex())

	g, err := a.Authenticate(context.Background(), Request{Password: "correct horse battery staple"})
	require.NoError(t, err)
	assert.Equal(t, MethodPassword, g.Method)

	_, err = a.Authenticate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoCredentials)
}
