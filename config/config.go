// Package config loads the service configuration from flag defaults, an
// optional YAML file, GOAUTH_ environment variables and explicit flags, in
// that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	auth "github.com/greensol/go-auth"
)

// EnvPrefix is the prefix of environment overrides, e.g. GOAUTH_DB_DSN
const EnvPrefix = "GOAUTH_"

type HTTP struct {
	Addr  string `koanf:"addr"`
	Debug bool   `koanf:"debug"`
}

type Metrics struct {
	Addr string `koanf:"addr"`
}

type DB struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type Auth struct {
	SigningKey        string        `koanf:"signing_key"`
	Issuer            string        `koanf:"issuer"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	VerificationTTL   time.Duration `koanf:"verification_ttl"`
	BcryptCost        int           `koanf:"bcrypt_cost"`
	Workers           int           `koanf:"workers"`
	BaseURL           string        `koanf:"base_url"`
	VerifyRedirectURL string        `koanf:"verify_redirect_url"`
	TokenHeader       string        `koanf:"token_header"`
	UseHashid         bool          `koanf:"use_hashid"`
	// PreviousSigningKeys still validate tokens issued before a key rotation
	PreviousSigningKeys []string `koanf:"previous_signing_keys"`
}

type Mail struct {
	Driver      string `koanf:"driver"`
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	From        string `koanf:"from"`
	ImplicitTLS bool   `koanf:"implicit_tls"`
	AppName     string `koanf:"app_name"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Config is the full service configuration
type Config struct {
	HTTP    HTTP    `koanf:"http"`
	Metrics Metrics `koanf:"metrics"`
	DB      DB      `koanf:"db"`
	Auth    Auth    `koanf:"auth"`
	Mail    Mail    `koanf:"mail"`
	Log     Log     `koanf:"log"`
}

var _ auth.Config = (*Config)(nil)

// RegisterFlags declares every key with its default on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http.addr", ":8080", "HTTP listen address")
	fs.Bool("http.debug", false, "log rejected requests with details")
	fs.String("metrics.addr", ":9100", "metrics listen address, empty to disable")
	fs.String("db.driver", auth.DriverSQLite, "database driver: sqlite or postgres")
	fs.String("db.dsn", "file:goauth.db?cache=shared", "database DSN")
	fs.String("auth.signing_key", "", "HMAC key for session tokens")
	fs.StringSlice("auth.previous_signing_keys", nil, "rotated HMAC keys still accepted for validation")
	fs.String("auth.issuer", "go-auth", "session token issuer")
	fs.Duration("auth.token_ttl", auth.DefaultTokenTTL, "session token lifetime")
	fs.Duration("auth.verification_ttl", auth.DefaultVerificationTTL, "verification ticket lifetime")
	fs.Int("auth.bcrypt_cost", 0, "bcrypt cost, 0 for the library default")
	fs.Int("auth.workers", 0, "concurrent hashing and signing jobs, 0 for GOMAXPROCS")
	fs.String("auth.base_url", "http://localhost:8080", "public origin used in verification links")
	fs.String("auth.verify_redirect_url", "", "redirect target after a verification link is opened")
	fs.String("auth.token_header", auth.DefaultTokenHeader, "header carrying session tokens")
	fs.Bool("auth.use_hashid", false, "derive user ids from the salted email address")
	fs.String("mail.driver", "log", "mail driver: log or smtp")
	fs.String("mail.host", "", "SMTP host")
	fs.Int("mail.port", 587, "SMTP port")
	fs.String("mail.username", "", "SMTP username")
	fs.String("mail.password", "", "SMTP password")
	fs.String("mail.from", "", "sender address")
	fs.Bool("mail.implicit_tls", false, "dial SMTP over TLS instead of STARTTLS")
	fs.String("mail.app_name", "Greensol", "product name used in mail")
	fs.String("log.level", "info", "log level")
	fs.String("log.format", "json", "log format: json or console")
}

// Load reads the configuration. configFile may be empty.
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read config file").
				WithMetadata(map[string]any{"file": configFile})
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read environment")
	}

	// unchanged flags only fill keys nothing else set
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "failed to decode config")
	}

	return cfg, nil
}

// envKey maps GOAUTH_AUTH_SIGNING_KEY to auth.signing_key. Only the first
// underscore separates the section.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	problems := map[string]any{}

	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		problems["auth.signing_key"] = "cannot be blank"
	}
	if c.Auth.TokenTTL <= 0 {
		problems["auth.token_ttl"] = "must be positive"
	}
	if c.Auth.VerificationTTL <= 0 {
		problems["auth.verification_ttl"] = "must be positive"
	}
	switch c.DB.Driver {
	case auth.DriverSQLite, auth.DriverPostgres:
	default:
		problems["db.driver"] = "must be sqlite or postgres"
	}
	if c.DB.DSN == "" {
		problems["db.dsn"] = "cannot be blank"
	}
	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" {
			problems["mail.host"] = "cannot be blank with the smtp driver"
		}
		if c.Mail.From == "" {
			problems["mail.from"] = "cannot be blank with the smtp driver"
		}
	default:
		problems["mail.driver"] = "must be log or smtp"
	}

	if len(problems) == 0 {
		return nil
	}

	return errors.New("invalid configuration", errors.CategoryValidation).
		WithTextCode(auth.TextCodeValidation).
		WithMetadata(problems)
}

func (c *Config) GetSigningKey() string             { return c.Auth.SigningKey }
func (c *Config) GetIssuer() string                 { return c.Auth.Issuer }
func (c *Config) GetTokenTTL() time.Duration        { return c.Auth.TokenTTL }
func (c *Config) GetVerificationTTL() time.Duration { return c.Auth.VerificationTTL }
func (c *Config) GetBaseURL() string                { return c.Auth.BaseURL }
func (c *Config) GetVerifyRedirectURL() string      { return c.Auth.VerifyRedirectURL }

func (c *Config) GetPreviousSigningKeys() [][]byte {
	keys := make([][]byte, 0, len(c.Auth.PreviousSigningKeys))
	for _, key := range c.Auth.PreviousSigningKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, []byte(key))
		}
	}
	return keys
}

func (c *Config) GetTokenHeader() string {
	if c.Auth.TokenHeader == "" {
		return auth.DefaultTokenHeader
	}
	return c.Auth.TokenHeader
}
