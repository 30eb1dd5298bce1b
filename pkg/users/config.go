package users

import (
	"fmt"
	"strings"
	"time"

	"github.com/StricklySoft/authgate/pkg/identity"
)

// Backend names accepted by Config.Backend.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Defaults.
const (
	DefaultOperationTimeout       = 2 * time.Second
	DefaultRole                   = "standard_user"
	DefaultPlaceholderEmailDomain = "example.com"
)

// Config configures the reconciler. Env tags are relative to the enclosing
// prefix (AUTHGATE_USERS in the gateway binary).
type Config struct {
	// Backend selects the store. Development runs on the in-memory store
	// unless told otherwise.
	Backend string `json:"backend" yaml:"backend" env:"BACKEND" envDefault:"memory" profileDefault:"staging=postgres;production=postgres"`

	// OperationTimeout bounds each lookup, write and commit separately.
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" env:"OPERATION_TIMEOUT" envDefault:"2s"`

	// DefaultRole is given to auto-created users whose claims carry no
	// role or an admin role.
	DefaultRole string `json:"default_role" yaml:"default_role" env:"DEFAULT_ROLE" envDefault:"standard_user"`

	// PlaceholderEmailDomain completes user_<id>@<domain> for users whose
	// claims carry no email.
	PlaceholderEmailDomain string `json:"placeholder_email_domain" yaml:"placeholder_email_domain" env:"PLACEHOLDER_EMAIL_DOMAIN" envDefault:"example.com"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Backend:                BackendMemory,
		OperationTimeout:       DefaultOperationTimeout,
		DefaultRole:            DefaultRole,
		PlaceholderEmailDomain: DefaultPlaceholderEmailDomain,
	}
}

// Validate fills zero fields with defaults and checks the rest.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.DefaultRole == "" {
		c.DefaultRole = DefaultRole
	}
	if c.PlaceholderEmailDomain == "" {
		c.PlaceholderEmailDomain = DefaultPlaceholderEmailDomain
	}

	switch {
	case c.Backend != BackendPostgres && c.Backend != BackendMemory:
		return fmt.Errorf("users: backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Backend)
	case c.OperationTimeout < 0:
		return fmt.Errorf("users: operation_timeout must not be negative")
	case identity.IsAdminRole(c.DefaultRole):
		return fmt.Errorf("users: default_role must not be an admin role, got %q", c.DefaultRole)
	case strings.ContainsAny(c.PlaceholderEmailDomain, "@ "):
		return fmt.Errorf("users: placeholder_email_domain %q is not a domain", c.PlaceholderEmailDomain)
	}
	return nil
}
