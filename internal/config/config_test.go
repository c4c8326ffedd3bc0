package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearZannEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				if len(e) > 5 && e[:5] == "ZANN_" {
					require.NoError(t, os.Unsetenv(e[:i]))
				}
				break
			}
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearZannEnv(t)
	t.Setenv("ZANN_DSN", "postgres://x/y")
	t.Setenv("ZANN_SERVER_MASTER_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, AuthModeInternal, cfg.Auth.Mode)
	require.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	require.Equal(t, 720*time.Hour, cfg.Tokens.RefreshTTL)
	require.Equal(t, "k", cfg.Server.MasterKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MasterKeyFromFile(t *testing.T) {
	clearZannEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	require.NoError(t, os.WriteFile(path, []byte("filekey\n"), 0o600))

	t.Setenv("ZANN_DSN", "postgres://x/y")
	t.Setenv("ZANN_SERVER_MASTER_KEY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "filekey", cfg.Server.MasterKey)
}

func TestLoad_TokenPepperDefaultsToPasswordPepper(t *testing.T) {
	clearZannEnv(t)
	t.Setenv("ZANN_DSN", "postgres://x/y")
	t.Setenv("ZANN_SERVER_MASTER_KEY", "k")
	t.Setenv("ZANN_PASSWORD_PEPPER", "pw-pepper")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "pw-pepper", cfg.Secrets.TokenPepper)
}

func TestValidate_MissingMasterKey(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_OIDCRequiresIssuerAndKeySource(t *testing.T) {
	cfg := &Config{Server: ServerConfig{MasterKey: "k"}, Auth: AuthConfig{Mode: AuthModeOIDC}}
	require.Error(t, cfg.Validate())

	cfg.Auth.OIDCIssuer = "https://idp"
	cfg.Auth.OIDCAudience = "aud"
	require.Error(t, cfg.Validate(), "still missing jwks source")

	cfg.Auth.OIDCJWKSURL = "https://idp/jwks"
	require.NoError(t, cfg.Validate())

	cfg.Auth.OIDCJWKSFile = "/etc/jwks.json"
	require.Error(t, cfg.Validate(), "url and file are mutually exclusive")
}
