package domain

import (
	"strings"
	"time"
)

// Provider identifica el proveedor que controla el login de una identidad.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// ParseProvider normaliza el nombre de un proveedor. Devuelve false si no es conocido.
func ParseProvider(raw string) (Provider, bool) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(raw))); p {
	case ProviderLocal, ProviderGoogle, ProviderFacebook:
		return p, true
	default:
		return "", false
	}
}

func (p Provider) String() string { return string(p) }

const (
	DefaultScore = 0
	DefaultLevel = 1
)

type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	PhotoURL   string    `json:"photoUrl"`
	Provider   Provider  `json:"provider"`
	ProviderID string    `json:"providerId"`
	IsActive   bool      `json:"-"`
	Score      int       `json:"score"`
	Level      int       `json:"level"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// Profile son los claims verificados que devuelve un proveedor externo.
type Profile struct {
	Subject  string
	Email    string
	Name     string
	PhotoURL string
}
