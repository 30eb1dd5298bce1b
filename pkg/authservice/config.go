// Package authservice is the client for the external auth microservice that
// owns token validation. The gateway never verifies tokens itself; it asks
// this service and trusts the answer.
//
// Every call is bounded by a per-attempt timeout, retried with exponential
// backoff on transport failures and 5xx answers, and guarded by a circuit
// breaker so an outage fails fast instead of stacking up requests.
//
//	client, err := authservice.New(cfg, authservice.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	result, err := client.Validate(ctx, token)
package authservice

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults for a co-located auth service.
const (
	DefaultBaseURL          = "http://localhost:8081"
	DefaultValidatePath     = "/validate"
	DefaultHealthPath       = "/health"
	DefaultTimeout          = time.Second
	DefaultHealthTimeout    = 2 * time.Second
	DefaultMaxRetries       = 2
	DefaultRetryBackoff     = 50 * time.Millisecond
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// Config configures the auth service client. Env tags are relative to the
// enclosing prefix (AUTHGATE_AUTH in the gateway binary).
type Config struct {
	// BaseURL is the scheme and authority of the auth service.
	BaseURL      string `json:"base_url" yaml:"base_url" env:"URL" envDefault:"http://localhost:8081"`
	ValidatePath string `json:"validate_path" yaml:"validate_path" env:"VALIDATE_PATH" envDefault:"/validate"`
	HealthPath   string `json:"health_path" yaml:"health_path" env:"HEALTH_PATH" envDefault:"/health"`

	// Timeout bounds each validation attempt, not the whole retried call.
	// HealthTimeout bounds one Available probe. Both follow the same
	// per-environment profile.
	Timeout       time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT" envDefault:"1s" profileDefault:"staging=500ms"`
	HealthTimeout time.Duration `json:"health_timeout" yaml:"health_timeout" env:"HEALTH_TIMEOUT" envDefault:"2s" profileDefault:"staging=500ms"`

	// MaxRetries is the number of extra attempts after the first. Zero
	// disables retries.
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES" envDefault:"2"`
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff" env:"RETRY_BACKOFF" envDefault:"50ms"`

	// FailureThreshold is the number of consecutive failed calls that
	// opens the breaker. Cooldown is how long it stays open before a
	// single probe is let through.
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold" env:"FAILURE_THRESHOLD" envDefault:"5"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown" env:"COOLDOWN" envDefault:"30s"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		ValidatePath:     DefaultValidatePath,
		HealthPath:       DefaultHealthPath,
		Timeout:          DefaultTimeout,
		HealthTimeout:    DefaultHealthTimeout,
		MaxRetries:       DefaultMaxRetries,
		RetryBackoff:     DefaultRetryBackoff,
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
	}
}

// Validate fills zero durations and paths with defaults and checks the rest.
// MaxRetries is left alone because zero is meaningful.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ValidatePath == "" {
		c.ValidatePath = DefaultValidatePath
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("authservice: base_url is invalid: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("authservice: base_url scheme must be http or https, got %q", u.Scheme)
	case u.Host == "":
		return fmt.Errorf("authservice: base_url must include a host")
	case c.Timeout < 0 || c.HealthTimeout < 0 || c.RetryBackoff < 0 || c.Cooldown < 0:
		return fmt.Errorf("authservice: durations must not be negative")
	case c.MaxRetries < 0:
		return fmt.Errorf("authservice: max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

func (c *Config) endpoint(path string) string {
	return c.BaseURL + path
}
