package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// InsecureDefaultSecret se usa solo cuando no hay HMAC_SECRET ni JWT_SECRET.
const InsecureDefaultSecret = "default-secret-change-in-production"

var ErrInsecureSecret = errors.New("hmac secret not configured: refusing to use the built-in default (set HMAC_SECRET or ALLOW_INSECURE_SECRET=true)")

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort            string        `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL         string        `env:"DATABASE_URL,required"`
	AutoMigrate         bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	HMACSecret          string        `env:"HMAC_SECRET"`
	JWTSecret           string        `env:"JWT_SECRET"`
	AllowInsecureSecret bool          `env:"ALLOW_INSECURE_SECRET" envDefault:"false"`
	SignatureMaxAge     time.Duration `env:"SIGNATURE_MAX_AGE" envDefault:"0s"`
	GoogleClientID      string        `env:"GOOGLE_CLIENT_ID"`
	GoogleTokenInfoURL  string        `env:"GOOGLE_TOKENINFO_URL" envDefault:"https://www.googleapis.com/oauth2/v3/tokeninfo"`
	FacebookAppID       string        `env:"FACEBOOK_APP_ID"`
	FacebookAppSecret   string        `env:"FACEBOOK_APP_SECRET"`
	FacebookGraphURL    string        `env:"FACEBOOK_GRAPH_URL" envDefault:"https://graph.facebook.com"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
	RedisURL            string        `env:"REDIS_URL"`
	IdentityCacheTTL    time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"30s"`
	CORSOrigins         []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://10.0.2.2:3000"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveSecret aplica el orden HMAC_SECRET, JWT_SECRET, default.
// El segundo valor indica que se está usando el default inseguro.
func (c *Config) ResolveSecret() (string, bool) {
	if s := strings.TrimSpace(c.HMACSecret); s != "" {
		return s, false
	}
	if s := strings.TrimSpace(c.JWTSecret); s != "" {
		return s, false
	}
	return InsecureDefaultSecret, true
}

// Validate rechaza el secreto por defecto salvo que se permita explícitamente.
func (c *Config) Validate() error {
	if _, insecure := c.ResolveSecret(); insecure && !c.AllowInsecureSecret {
		return ErrInsecureSecret
	}
	if c.SignatureMaxAge < 0 {
		return errors.New("SIGNATURE_MAX_AGE must not be negative")
	}
	return nil
}
