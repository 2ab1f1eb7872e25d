package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"adops.io/internal/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultAccessSecret  = "dev-access-secret-change-me"
	defaultRefreshSecret = "dev-refresh-secret-change-me"
	minSecretLength      = 32
)

type Config struct {
	Env       string `env:"APP_ENV" env-default:"development"`
	HTTP      HTTPServer
	GRPC      GRPCServer
	DB        DB
	Tokens    Tokens
	Roles     Roles
	Log       Log
	Limits    Limits
	Bootstrap Bootstrap
}

type HTTPServer struct {
	Address      string        `env:"HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	CORSOrigins  []string      `env:"HTTP_CORS_ORIGINS" env-separator:","`
}

type GRPCServer struct {
	// Empty disables the listener.
	Address string `env:"GRPC_ADDRESS"`
}

type DB struct {
	// Empty selects the in-memory store.
	URL          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	AutoMigrate  bool   `env:"DB_AUTO_MIGRATE" env-default:"true"`
}

type Tokens struct {
	AccessSecret  string        `env:"ACCESS_TOKEN_SECRET" env-default:"dev-access-secret-change-me"`
	RefreshSecret string        `env:"REFRESH_TOKEN_SECRET" env-default:"dev-refresh-secret-change-me"`
	AccessTTL     time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"168h"`
}

type Roles struct {
	AdminLevel      int      `env:"ADMIN_ROLE_LEVEL" env-default:"8"`
	SuperAdminLevel int      `env:"SUPER_ADMIN_ROLE_LEVEL" env-default:"10"`
	AdminNames      []string `env:"ADMIN_ROLE_NAMES" env-separator:"," env-default:"admin,super_admin"`
}

type Log struct {
	Level string `env:"LOG_LEVEL" env-default:"info"`
	Dev   bool   `env:"LOG_DEV" env-default:"false"`
}

type Limits struct {
	RatePerSecond float64 `env:"RATE_LIMIT_PER_SECOND" env-default:"5"`
	RateBurst     int     `env:"RATE_LIMIT_BURST" env-default:"10"`
	// CIDRs or single addresses of proxies whose X-Forwarded-For is honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES" env-separator:","`
}

type Bootstrap struct {
	AdminUsername string `env:"BOOTSTRAP_ADMIN_USERNAME" env-default:"admin"`
	// Empty skips creating the first super admin.
	AdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// Load reads the configuration from the process environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	c.Bootstrap.AdminUsername = strings.ToLower(strings.TrimSpace(c.Bootstrap.AdminUsername))
	names := c.Roles.AdminNames[:0]
	for _, n := range c.Roles.AdminNames {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	c.Roles.AdminNames = names
}

// Development reports whether error details may be exposed to clients.
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, EnvProduction, "test":
	default:
		errs = append(errs, fmt.Errorf("APP_ENV %q is not one of development, test, production", c.Env))
	}
	if c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "" {
		errs = append(errs, errors.New("token secrets must not be empty"))
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if c.Env == EnvProduction {
		if c.Tokens.AccessSecret == defaultAccessSecret || c.Tokens.RefreshSecret == defaultRefreshSecret {
			errs = append(errs, errors.New("default token secrets are not allowed in production"))
		}
		if len(c.Tokens.AccessSecret) < minSecretLength || len(c.Tokens.RefreshSecret) < minSecretLength {
			errs = append(errs, fmt.Errorf("token secrets must be at least %d bytes in production", minSecretLength))
		}
		if c.DB.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must exceed ACCESS_TOKEN_TTL"))
	}
	if c.Roles.AdminLevel <= 0 || c.Roles.SuperAdminLevel < c.Roles.AdminLevel {
		errs = append(errs, errors.New("role levels must satisfy 0 < ADMIN_ROLE_LEVEL <= SUPER_ADMIN_ROLE_LEVEL"))
	}
	if c.Limits.RatePerSecond <= 0 || c.Limits.RateBurst <= 0 {
		errs = append(errs, errors.New("rate limit settings must be positive"))
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err)
	}
	if c.DB.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be positive"))
	}
	return errors.Join(errs...)
}

// TrustedProxies parses TRUSTED_PROXIES; a bare address is a single-host prefix.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.Limits.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AdminPolicy builds the role policy shared by guards and the privacy filter.
func (c *Config) AdminPolicy() auth.AdminPolicy {
	names := make([]string, len(c.Roles.AdminNames))
	copy(names, c.Roles.AdminNames)
	return auth.AdminPolicy{
		Level:           c.Roles.AdminLevel,
		SuperAdminLevel: c.Roles.SuperAdminLevel,
		RoleNames:       names,
	}
}

// String renders the config for startup logs with secrets masked.
func (c Config) String() string {
	return fmt.Sprintf("env=%s http=%s grpc=%q db=%s access_ttl=%s refresh_ttl=%s admin_level=%d log=%s",
		c.Env, c.HTTP.Address, c.GRPC.Address, maskDSN(c.DB.URL),
		c.Tokens.AccessTTL, c.Tokens.RefreshTTL, c.Roles.AdminLevel, c.Log.Level)
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return "***"
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
