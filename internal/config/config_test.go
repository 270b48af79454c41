package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DMCHAT_CONFIG", "DMCHAT_DB", "ADMIN_ADDR", "API_ADDR", "BASE_URL",
		"IDENTITY_SECRET", "SESSION_EXPIRY", "LOG_LEVEL",
		"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBJECT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDENTITY_SECRET", "c2VjcmV0")

	cfg, err := Load(false)
	require.NoError(t, err)
	require.Equal(t, "dmchat.db", cfg.DBFile)
	require.Equal(t, ":8080", cfg.APIAddr)
	require.Equal(t, "localhost:8081", cfg.AdminAddr)
	require.Equal(t, 24*time.Hour, cfg.TokenExpiry())
	require.Equal(t, slog.LevelInfo, cfg.Level())
	require.False(t, cfg.PushEnabled())
}

func TestLoad_SecretRequired(t *testing.T) {
	clearEnv(t)

	_, err := Load(false)
	require.Error(t, err)

	_, err = Load(true)
	require.NoError(t, err, "CLI mode talks to the admin API only")
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "dmchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db: /var/lib/dmchat/chat.db
apiAddr: ":9090"
identitySecret: ZmlsZQ==
sessionExpiry: 2h
logLevel: debug
`), 0o600))
	t.Setenv("DMCHAT_CONFIG", path)
	t.Setenv("API_ADDR", ":7070")

	cfg, err := Load(false)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/dmchat/chat.db", cfg.DBFile)
	require.Equal(t, ":7070", cfg.APIAddr)
	require.Equal(t, "ZmlsZQ==", cfg.IdentitySecret)
	require.Equal(t, 2*time.Hour, cfg.TokenExpiry())
	require.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DMCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load(true)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero expiry", func(c *Config) { c.SessionExpiry = "0s" }},
		{"negative expiry", func(c *Config) { c.SessionExpiry = "-1h" }},
		{"garbage expiry", func(c *Config) { c.SessionExpiry = "soon" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"half vapid pair", func(c *Config) { c.VAPIDPublicKey = "pub" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.IdentitySecret = "c2VjcmV0"
			tt.mutate(cfg)
			require.Error(t, cfg.Validate(false))
		})
	}

	cfg := defaults()
	cfg.IdentitySecret = "c2VjcmV0"
	cfg.VAPIDPublicKey = "pub"
	cfg.VAPIDPrivateKey = "priv"
	require.NoError(t, cfg.Validate(false))
	require.True(t, cfg.PushEnabled())
}
