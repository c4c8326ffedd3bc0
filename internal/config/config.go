// Package config binds the server's enumerated configuration surface
// (spec.md §6) from environment variables, with secrets indirectable
// through a sibling *_FILE variable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zann-project/zann/internal/errs"
)

// AuthMode selects how internal password auth and OIDC combine.
type AuthMode string

const (
	AuthModeInternal AuthMode = "internal"
	AuthModeOIDC     AuthMode = "oidc"
	AuthModeBoth     AuthMode = "both"
	AuthModeDisabled AuthMode = "disabled"
)

// RegistrationMode is the parsed internal-registration setting. The server
// does not read it: /v1/auth/register is routed and open in every mode.
type RegistrationMode string

const (
	RegistrationOpen       RegistrationMode = "open"
	RegistrationInviteOnly RegistrationMode = "invite_only"
	RegistrationDisabled   RegistrationMode = "disabled"
)

type AuthConfig struct {
	Mode             AuthMode         `env:"MODE" envDefault:"internal"`
	InternalRegister RegistrationMode `env:"INTERNAL_REGISTRATION" envDefault:"open"`
	OIDCIssuer       string           `env:"OIDC_ISSUER"`
	OIDCAudience     string           `env:"OIDC_AUDIENCE"`
	OIDCJWKSURL      string           `env:"OIDC_JWKS_URL"`
	OIDCJWKSFile     string           `env:"OIDC_JWKS_FILE"`
	OIDCAutoProvision bool            `env:"OIDC_AUTO_PROVISION" envDefault:"false"`
}

type ServerConfig struct {
	Addr           string   `env:"ADDR" envDefault:":8443"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES" envDefault:"10485760"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	MasterKey      string   `env:"MASTER_KEY"`
	MasterKeyFile  string   `env:"MASTER_KEY_FILE"`
}

type TokensConfig struct {
	AccessTTL         time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL        time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	ServiceAccountTTL time.Duration `env:"SERVICE_ACCOUNT_TTL" envDefault:"15m"`
}

type RetentionConfig struct {
	HistoryTail        int `env:"HISTORY_TAIL" envDefault:"50"`
	TombstoneDays      int `env:"TOMBSTONE_DAYS" envDefault:"30"`
	TrashAutoPurgeDays int `env:"TRASH_AUTO_PURGE_DAYS" envDefault:"90"`
}

type KDFArgon2Config struct {
	MemoryKB    uint32 `env:"M_KB" envDefault:"65536"`
	Iterations  uint32 `env:"T_ITERS" envDefault:"3"`
	Parallelism uint8  `env:"P_LANES" envDefault:"2"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"4"`
}

type MetricsConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Endpoint string `env:"ENDPOINT" envDefault:"/metrics"`
	Profile  string `env:"PROFILE" envDefault:""`
}

type TracingConfig struct {
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" envDefault:"true"`
}

// Secrets holds process-wide pepper values, each of which may instead be
// supplied via a *_FILE path per spec.md §6.
type Secrets struct {
	PasswordPepper     string `env:"PASSWORD_PEPPER"`
	PasswordPepperFile string `env:"PASSWORD_PEPPER_FILE"`
	TokenPepper        string `env:"TOKEN_PEPPER"`
	TokenPepperFile    string `env:"TOKEN_PEPPER_FILE"`
}

// Config is the full enumerated surface of spec.md §6, bound from the
// process environment with an "ZANN_" prefix (e.g. ZANN_AUTH_MODE,
// ZANN_SERVER_ADDR, ZANN_TOKENS_ACCESS_TTL).
type Config struct {
	DSN string `env:"DSN,required"`

	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Tokens    TokensConfig    `envPrefix:"TOKENS_"`
	Retention RetentionConfig `envPrefix:"RETENTION_"`
	KDF       KDFArgon2Config `envPrefix:"KDF_ARGON2_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	Tracing   TracingConfig   `envPrefix:"TRACING_"`
	Secrets   Secrets         `envPrefix:""`
}

// Load parses Config from the environment and resolves *_FILE secret
// indirection. It does not validate cross-field invariants; call Validate
// for that.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ZANN_"}); err != nil {
		return nil, errs.New(errs.KindConfigInvalid, "parse environment", err)
	}
	if err := resolveFileSecret(&cfg.Server.MasterKey, cfg.Server.MasterKeyFile); err != nil {
		return nil, err
	}
	if err := resolveFileSecret(&cfg.Secrets.PasswordPepper, cfg.Secrets.PasswordPepperFile); err != nil {
		return nil, err
	}
	if err := resolveFileSecret(&cfg.Secrets.TokenPepper, cfg.Secrets.TokenPepperFile); err != nil {
		return nil, err
	}
	if cfg.Secrets.TokenPepper == "" {
		cfg.Secrets.TokenPepper = cfg.Secrets.PasswordPepper
	}
	return &cfg, nil
}

func resolveFileSecret(dst *string, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.KindConfigInvalid, fmt.Sprintf("read secret file %s", path), err)
	}
	*dst = strings.TrimSpace(string(b))
	return nil
}

// Validate enforces the cross-field invariants Load cannot check alone:
// a master key must be present one way or another, and an OIDC mode
// requires its issuer/audience/key-source triple.
func (c *Config) Validate() error {
	if c.Server.MasterKey == "" {
		return errs.New(errs.KindMasterKeyMissing, "server master key not configured", nil)
	}
	if c.Auth.Mode == AuthModeOIDC || c.Auth.Mode == AuthModeBoth {
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCAudience == "" {
			return errs.New(errs.KindConfigInvalid, "oidc issuer/audience required", nil)
		}
		if c.Auth.OIDCJWKSURL == "" && c.Auth.OIDCJWKSFile == "" {
			return errs.New(errs.KindConfigInvalid, "oidc jwks_url or jwks_file required", nil)
		}
		if c.Auth.OIDCJWKSURL != "" && c.Auth.OIDCJWKSFile != "" {
			return errs.New(errs.KindConfigInvalid, "oidc jwks_url and jwks_file are mutually exclusive", nil)
		}
	}
	return nil
}
