package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
)

func issue(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTokenCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"issue"}, args...))
	return buf, cmd.Execute()
}

func TestTokenIssueVerifies(t *testing.T) {
	t.Setenv("COWORK_AUTH_ISSUER", "")
	t.Setenv("COWORK_PASETO_V4_SECRET_KEY_HEX", "")

	secret := paseto.NewV4AsymmetricSecretKey()

	buf, err := issue(t,
		"--secret-key", secret.ExportHex(),
		"--sub", "node-7",
		"--role", "node",
		"--scopes", "read, node.write",
		"--device-id", "dev-1",
		"--ttl", "1h",
	)
	require.NoError(t, err)

	var out issuedToken
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []string{"read", "node.write"}, out.Scopes)
	assert.WithinDuration(t, time.Now().Add(time.Hour), out.ExpiresAt, time.Minute)

	cfg := auth.DefaultConfig()
	cfg.PublicKeyHex = secret.Public().ExportHex()
	tm, err := auth.NewTokenManager(cfg)
	require.NoError(t, err)

	claims, err := tm.Verify(out.Token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "node-7", claims.Subject)
	assert.Equal(t, "node", claims.Role)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, []string{"read", "node.write"}, claims.Scopes)
}

func TestTokenIssueKeyFromEnv(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("COWORK_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())

	_, err := issue(t, "--sub", "ops")
	require.NoError(t, err)
}

func TestTokenIssueErrors(t *testing.T) {
	t.Setenv("COWORK_PASETO_V4_SECRET_KEY_HEX", "")
	key := paseto.NewV4AsymmetricSecretKey().ExportHex()

	cases := []struct {
		name string
		args []string
		want error
	}{
		{name: "no key", args: []string{"--sub", "ops"}, want: auth.ErrConfig},
		{name: "bad key", args: []string{"--sub", "ops", "--secret-key", "zz"}, want: auth.ErrConfig},
		{name: "blank subject", args: []string{"--sub", " ", "--secret-key", key}, want: auth.ErrConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := issue(t, tc.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	t.Run("unknown role", func(t *testing.T) {
		_, err := issue(t, "--sub", "ops", "--secret-key", key, "--role", "admin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown role")
	})

	t.Run("missing sub", func(t *testing.T) {
		_, err := issue(t, "--secret-key", key)
		require.Error(t, err)
	})
}
